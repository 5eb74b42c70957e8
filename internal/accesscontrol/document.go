// Package accesscontrol evaluates governance and permissions documents to
// answer per-operation authorization queries — create participant/topic/
// reader/writer, match a remote endpoint — and to derive the security
// attributes attached to each kind of entity.
package accesscontrol

import "time"

// ProtectionKind is the RTPS submessage/payload protection level.
type ProtectionKind string

const (
	ProtectionNone              ProtectionKind = "NONE"
	ProtectionSign              ProtectionKind = "SIGN"
	ProtectionEncrypt           ProtectionKind = "ENCRYPT"
	ProtectionSignOriginAuth    ProtectionKind = "SIGN_WITH_ORIGIN_AUTHENTICATION"
	ProtectionEncryptOriginAuth ProtectionKind = "ENCRYPT_WITH_ORIGIN_AUTHENTICATION"
	DataProtectionNone          ProtectionKind = ProtectionNone
	DataProtectionSign          ProtectionKind = ProtectionSign
	DataProtectionEncrypt       ProtectionKind = ProtectionEncrypt
)

// authenticatesOrigin reports whether k carries an origin-authentication bit.
func (k ProtectionKind) authenticatesOrigin() bool {
	return k == ProtectionSignOriginAuth || k == ProtectionEncryptOriginAuth
}

// encrypts reports whether k encrypts its payload.
func (k ProtectionKind) encrypts() bool {
	return k == ProtectionEncrypt || k == ProtectionEncryptOriginAuth
}

func (k ProtectionKind) protects() bool { return k != ProtectionNone && k != "" }

// DomainRange is an inclusive [Min,Max] domain id interval; overlapping
// ranges across domain rules are permitted, first match wins.
type DomainRange struct {
	Min, Max uint32
}

func (r DomainRange) contains(domain uint32) bool { return domain >= r.Min && domain <= r.Max }

// TopicRule governs one topic-expression glob within a domain rule.
type TopicRule struct {
	TopicExpression            string
	EnableDiscoveryProtection  bool
	EnableLivelinessProtection bool
	EnableReadAccessControl    bool
	EnableWriteAccessControl   bool
	MetadataProtectionKind     ProtectionKind
	DataProtectionKind         ProtectionKind
}

// DomainRule is one <domain_rule> entry of a governance document.
type DomainRule struct {
	Domains                          []DomainRange
	AllowUnauthenticatedParticipants bool
	EnableJoinAccessControl          bool
	DiscoveryProtectionKind          ProtectionKind
	LivelinessProtectionKind         ProtectionKind
	RTPSProtectionKind               ProtectionKind
	TopicAccessRules                 []TopicRule
}

func (d *DomainRule) coversDomain(domain uint32) bool {
	for _, r := range d.Domains {
		if r.contains(domain) {
			return true
		}
	}
	return false
}

// matchTopicRule returns the first topic rule whose expression matches
// topic, or nil if none does.
func (d *DomainRule) matchTopicRule(match func(expr, topic string) bool, topic string) *TopicRule {
	for i := range d.TopicAccessRules {
		if match(d.TopicAccessRules[i].TopicExpression, topic) {
			return &d.TopicAccessRules[i]
		}
	}
	return nil
}

// Governance is the parsed, validated governance document: an ordered list
// of domain rules, first matching rule for a given domain id wins.
type Governance struct {
	DomainRules []DomainRule
}

// findDomainRule returns the first rule covering domain.
func (g *Governance) findDomainRule(domain uint32) *DomainRule {
	for i := range g.DomainRules {
		if g.DomainRules[i].coversDomain(domain) {
			return &g.DomainRules[i]
		}
	}
	return nil
}

// RuleKind is the effect of an allow/deny rule or a grant's default action.
type RuleKind string

const (
	Allow RuleKind = "ALLOW"
	Deny  RuleKind = "DENY"
)

// Criteria is one <publish> or <subscribe> block within an allow/deny rule.
type Criteria struct {
	IsWrite    bool
	Topics     []string
	Partitions []string
}

// GrantRule is one <allow_rule> or <deny_rule> entry.
type GrantRule struct {
	Kind     RuleKind
	Domains  []DomainRange
	Criteria []Criteria
}

func (r *GrantRule) coversDomain(domain uint32) bool {
	if len(r.Domains) == 0 {
		return true
	}
	for _, d := range r.Domains {
		if d.contains(domain) {
			return true
		}
	}
	return false
}

// Grant is one <grant> entry of a permissions document.
type Grant struct {
	Name        string
	SubjectName string
	NotBefore   time.Time
	NotAfter    time.Time
	Rules       []GrantRule
	Default     RuleKind
}

func (g *Grant) validAt(t time.Time) bool {
	if !g.NotBefore.IsZero() && t.Before(g.NotBefore) {
		return false
	}
	if !g.NotAfter.IsZero() && t.After(g.NotAfter) {
		return false
	}
	return true
}

// Permissions is the parsed, validated permissions document: grants are
// matched by subject name, first validity-satisfying match wins.
type Permissions struct {
	Grants []Grant
}

func (p *Permissions) findGrant(subjectName string, now time.Time, subjectMatches func(grantDN, identityDN string) bool) *Grant {
	for i := range p.Grants {
		g := &p.Grants[i]
		if subjectMatches(g.SubjectName, subjectName) && g.validAt(now) {
			return g
		}
	}
	return nil
}

// builtinSecureTopics bypass rule evaluation entirely; their attributes are
// derived mechanically from the domain rule's protection kinds.
var builtinSecureTopics = map[string]bool{
	"DCPSParticipantsSecure":               true,
	"DCPSPublicationsSecure":               true,
	"DCPSSubscriptionsSecure":              true,
	"DCPSParticipantMessageSecure":         true,
	"DCPSParticipantStatelessMessage":      true,
	"DCPSParticipantVolatileMessageSecure": true,
}

// IsBuiltinSecureTopic reports whether topic is one of the well-known
// secure builtin topics that bypass grant-rule evaluation.
func IsBuiltinSecureTopic(topic string) bool { return builtinSecureTopics[topic] }
