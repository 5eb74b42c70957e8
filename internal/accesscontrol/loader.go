package accesscontrol

import (
	"encoding/xml"
	"fmt"
	"time"

	"ddscore/internal/coreerr"
)

// Governance/permissions documents parse through encoding/xml's struct
// tags rather than the schema-walker in internal/cfgschema: these
// documents are small, fixed-shape, and fully specified by the XSD the
// governance/permissions format defines, so a declarative struct mapping
// is the more direct fit than the engine that has to handle arbitrary
// deprecated-alias, partial-match, multi-source configuration trees.

type xmlDomains struct {
	IDs      []uint32 `xml:"id"`
	IDRanges []struct {
		Min uint32 `xml:"min"`
		Max uint32 `xml:"max"`
	} `xml:"id_range"`
}

func (d xmlDomains) toRanges() []DomainRange {
	var out []DomainRange
	for _, id := range d.IDs {
		out = append(out, DomainRange{Min: id, Max: id})
	}
	for _, r := range d.IDRanges {
		out = append(out, DomainRange{Min: r.Min, Max: r.Max})
	}
	return out
}

type xmlTopicRule struct {
	TopicExpression            string `xml:"topic_expression"`
	EnableDiscoveryProtection  bool   `xml:"enable_discovery_protection"`
	EnableLivelinessProtection bool   `xml:"enable_liveliness_protection"`
	EnableReadAccessControl    bool   `xml:"enable_read_access_control"`
	EnableWriteAccessControl   bool   `xml:"enable_write_access_control"`
	MetadataProtectionKind     string `xml:"metadata_protection_kind"`
	DataProtectionKind         string `xml:"data_protection_kind"`
}

type xmlDomainRule struct {
	Domains                          xmlDomains     `xml:"domains"`
	AllowUnauthenticatedParticipants bool           `xml:"allow_unauthenticated_participants"`
	EnableJoinAccessControl          bool           `xml:"enable_join_access_control"`
	DiscoveryProtectionKind          string         `xml:"discovery_protection_kind"`
	LivelinessProtectionKind         string         `xml:"liveliness_protection_kind"`
	RTPSProtectionKind               string         `xml:"rtps_protection_kind"`
	TopicAccessRules                 []xmlTopicRule `xml:"topic_access_rules>topic_rule"`
}

type xmlGovernance struct {
	XMLName xml.Name        `xml:"dds"`
	Rules   []xmlDomainRule `xml:"domain_access_rules>domain_rule"`
}

// ParseGovernance parses and structurally validates a governance document
// already extracted from its PKCS#7 envelope.
func ParseGovernance(payload []byte) (*Governance, error) {
	var doc xmlGovernance
	if err := xml.Unmarshal(payload, &doc); err != nil {
		return nil, coreerr.Wrap(err, coreerr.CodeSchemaViolation, "parse governance document")
	}
	gov := &Governance{}
	for _, r := range doc.Rules {
		domains := r.Domains.toRanges()
		if len(domains) == 0 {
			return nil, coreerr.New(coreerr.CodeSchemaViolation, "domain_rule with no domains")
		}
		dr := DomainRule{
			Domains:                          domains,
			AllowUnauthenticatedParticipants: r.AllowUnauthenticatedParticipants,
			EnableJoinAccessControl:          r.EnableJoinAccessControl,
			DiscoveryProtectionKind:          ProtectionKind(r.DiscoveryProtectionKind),
			LivelinessProtectionKind:         ProtectionKind(r.LivelinessProtectionKind),
			RTPSProtectionKind:               ProtectionKind(r.RTPSProtectionKind),
		}
		for _, tr := range r.TopicAccessRules {
			if tr.TopicExpression == "" {
				return nil, coreerr.New(coreerr.CodeSchemaViolation, "topic_rule missing topic_expression")
			}
			dr.TopicAccessRules = append(dr.TopicAccessRules, TopicRule{
				TopicExpression:            tr.TopicExpression,
				EnableDiscoveryProtection:  tr.EnableDiscoveryProtection,
				EnableLivelinessProtection: tr.EnableLivelinessProtection,
				EnableReadAccessControl:    tr.EnableReadAccessControl,
				EnableWriteAccessControl:   tr.EnableWriteAccessControl,
				MetadataProtectionKind:     ProtectionKind(tr.MetadataProtectionKind),
				DataProtectionKind:         ProtectionKind(tr.DataProtectionKind),
			})
		}
		gov.DomainRules = append(gov.DomainRules, dr)
	}
	return gov, nil
}

type xmlCriteria struct {
	Topics     []string `xml:"topics>topic"`
	Partitions []string `xml:"partitions>partition"`
}

type xmlGrantRule struct {
	XMLName   xml.Name
	Domains   xmlDomains    `xml:"domains"`
	Publish   []xmlCriteria `xml:"publish"`
	Subscribe []xmlCriteria `xml:"subscribe"`
}

type xmlGrant struct {
	Name     string `xml:"name,attr"`
	Subject  string `xml:"subject_name"`
	Validity struct {
		NotBefore string `xml:"not_before"`
		NotAfter  string `xml:"not_after"`
	} `xml:"validity"`
	// Rules collects allow_rule and deny_rule elements in document order.
	Rules   []xmlGrantRule `xml:",any"`
	Default string         `xml:"default"`
}

type xmlPermissions struct {
	XMLName xml.Name   `xml:"dds"`
	Grants  []xmlGrant `xml:"permissions>grant"`
}

func parseGrantRule(r xmlGrantRule, kind RuleKind) GrantRule {
	gr := GrantRule{Kind: kind, Domains: r.Domains.toRanges()}
	for _, c := range r.Publish {
		gr.Criteria = append(gr.Criteria, Criteria{IsWrite: true, Topics: c.Topics, Partitions: c.Partitions})
	}
	for _, c := range r.Subscribe {
		gr.Criteria = append(gr.Criteria, Criteria{IsWrite: false, Topics: c.Topics, Partitions: c.Partitions})
	}
	return gr
}

// ParsePermissions parses and structurally validates a permissions document
// already extracted from its PKCS#7 envelope.
func ParsePermissions(payload []byte) (*Permissions, error) {
	var doc xmlPermissions
	if err := xml.Unmarshal(payload, &doc); err != nil {
		return nil, coreerr.Wrap(err, coreerr.CodeSchemaViolation, "parse permissions document")
	}
	perms := &Permissions{}
	for _, g := range doc.Grants {
		if g.Subject == "" {
			return nil, coreerr.New(coreerr.CodeSchemaViolation, "grant missing subject_name")
		}
		notBefore, err := time.Parse(time.RFC3339, g.Validity.NotBefore)
		if err != nil {
			return nil, coreerr.Wrap(err, coreerr.CodeSchemaViolation, "grant validity.not_before")
		}
		var notAfter time.Time
		if g.Validity.NotAfter != "" {
			notAfter, err = time.Parse(time.RFC3339, g.Validity.NotAfter)
			if err != nil {
				return nil, coreerr.Wrap(err, coreerr.CodeSchemaViolation, "grant validity.not_after")
			}
		}
		grant := Grant{
			Name:        g.Name,
			SubjectName: g.Subject,
			NotBefore:   notBefore,
			NotAfter:    notAfter,
			Default:     RuleKind(g.Default),
		}
		for _, r := range g.Rules {
			switch r.XMLName.Local {
			case "allow_rule":
				grant.Rules = append(grant.Rules, parseGrantRule(r, Allow))
			case "deny_rule":
				grant.Rules = append(grant.Rules, parseGrantRule(r, Deny))
			}
		}
		if grant.Default != Allow && grant.Default != Deny {
			return nil, coreerr.New(coreerr.CodeSchemaViolation, fmt.Sprintf("grant %q has invalid default action %q", grant.Name, g.Default))
		}
		perms.Grants = append(perms.Grants, grant)
	}
	return perms, nil
}
