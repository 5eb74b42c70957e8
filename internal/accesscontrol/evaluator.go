package accesscontrol

import (
	"fmt"
	"sync"
	"time"

	"ddscore/internal/coreerr"
	"ddscore/internal/dispatcher"
	"ddscore/internal/glob"
	"ddscore/internal/refcount"
)

// Handle identifies a successfully validated identity's rights record.
type Handle uint64

// PartitionSet is the endpoint's list of partitions; an empty set is
// equivalent to a single "" partition.
type PartitionSet []string

func (p PartitionSet) orDefault() []string {
	if len(p) == 0 {
		return []string{""}
	}
	return p
}

// ParticipantSecAttributes are the attributes derived for a domain.
type ParticipantSecAttributes struct {
	AllowUnauthenticated    bool
	IsAccessProtected       bool
	IsRTPSProtected         bool
	IsDiscoveryProtected    bool
	IsLivelinessProtected   bool
	RTPSEncrypted           bool
	RTPSOriginAuthenticated bool
}

// TopicSecAttributes mirror a topic rule's four protection booleans.
type TopicSecAttributes struct {
	IsReadProtected       bool
	IsWriteProtected      bool
	IsDiscoveryProtected  bool
	IsLivelinessProtected bool
}

// EndpointSecAttributes extend TopicSecAttributes with the per-sample
// protection bits derived from the topic rule's protection kinds.
type EndpointSecAttributes struct {
	TopicSecAttributes
	IsPayloadEncrypted              bool
	IsKeyProtected                  bool
	IsSubmessageProtected           bool
	IsSubmessageOriginAuthenticated bool
}

// RevokeListener is invoked when a grant's validity expires.
type RevokeListener func(handle Handle)

type rights struct {
	subjectName string
	grant       *Grant
	governance  *Governance
	revoked     bool
	mu          sync.Mutex
}

// Evaluator answers access-control decisions against one participant's
// loaded governance and permissions documents.
type Evaluator struct {
	governance  *Governance
	permissions *Permissions
	dispatcher  *dispatcher.Dispatcher

	table      *refcount.Table[Handle, *rights]
	nextHandle Handle
	mu         sync.Mutex

	listenerMu sync.Mutex
	listener   RevokeListener

	credentials *credentialSigner
}

// NewEvaluator constructs an Evaluator over already-parsed and validated
// documents. disp is the shared timed-callback dispatcher used for
// permission-expiry timers; it must already be enabled.
func NewEvaluator(gov *Governance, perms *Permissions, disp *dispatcher.Dispatcher) *Evaluator {
	return &Evaluator{
		governance:  gov,
		permissions: perms,
		dispatcher:  disp,
		table:       refcount.NewTable[Handle, *rights](nil),
		credentials: newCredentialSigner(),
	}
}

// SetListener installs the callback invoked when a validated grant's
// validity expires.
func (e *Evaluator) SetListener(l RevokeListener) {
	e.listenerMu.Lock()
	e.listener = l
	e.listenerMu.Unlock()
}

// ValidateLocalPermissions finds the grant covering identity's subject name
// and domain, and registers a revocation timer if the grant has a finite
// expiry.
func (e *Evaluator) ValidateLocalPermissions(identitySubject string, domain uint32) (Handle, error) {
	now := time.Now()
	dr := e.governance.findDomainRule(domain)
	if dr == nil {
		return 0, coreerr.New(coreerr.CodeDomainNotFound, fmt.Sprintf("no governance domain_rule covers domain %d", domain))
	}
	grant := e.permissions.findGrant(identitySubject, now, subjectMatches)
	if grant == nil {
		return 0, coreerr.New(coreerr.CodeSubjectMismatch, fmt.Sprintf("no grant matches subject %q", identitySubject))
	}

	e.mu.Lock()
	h := e.nextHandle
	e.nextHandle++
	e.mu.Unlock()

	r := &rights{subjectName: identitySubject, grant: grant, governance: e.governance}
	e.table.Insert(h, r)

	if !grant.NotAfter.IsZero() {
		e.dispatcher.Add(func(handle dispatcher.Handle, triggerTime time.Time, kind dispatcher.Kind, arg any) {
			if kind != dispatcher.KindTimeout {
				return
			}
			e.revoke(h)
		}, grant.NotAfter, nil)
	}
	return h, nil
}

func (e *Evaluator) revoke(h Handle) {
	if v, ok := e.table.Lookup(h); ok {
		v.mu.Lock()
		v.revoked = true
		v.mu.Unlock()
		e.table.Release(h)
	}
	e.listenerMu.Lock()
	l := e.listener
	e.listenerMu.Unlock()
	if l != nil {
		l(h)
	}
}

// ValidateRemotePermissions checks that the remote's permissions-token
// plugin classname matches the local one, then delegates to the same
// subject/domain matching as ValidateLocalPermissions.
func (e *Evaluator) ValidateRemotePermissions(localPluginClass, remotePluginClass, remoteSubject string, domain uint32) (Handle, error) {
	if localPluginClass != remotePluginClass {
		return 0, coreerr.New(coreerr.CodeIncompatiblePlugin, "incompatible remote plugin classname")
	}
	return e.ValidateLocalPermissions(remoteSubject, domain)
}

func (e *Evaluator) lookupRights(h Handle) (*rights, error) {
	r, ok := e.table.Lookup(h)
	if !ok {
		return nil, coreerr.New(coreerr.CodeExpired, "permissions handle not found")
	}
	defer e.table.Release(h)
	r.mu.Lock()
	revoked := r.revoked
	r.mu.Unlock()
	if revoked {
		return nil, coreerr.New(coreerr.CodeExpired, "permissions have been revoked")
	}
	return r, nil
}

// CheckCreateParticipant decides whether handle may create a participant
// on domain.
func (e *Evaluator) CheckCreateParticipant(h Handle, domain uint32) error {
	dr := e.governance.findDomainRule(domain)
	if dr == nil {
		return coreerr.New(coreerr.CodeDomainNotFound, "domain not found in governance")
	}
	if !dr.EnableJoinAccessControl {
		return nil
	}
	if _, err := e.lookupRights(h); err != nil {
		return err
	}
	return nil
}

// CheckCreateTopic decides whether handle may create topic on domain.
func (e *Evaluator) CheckCreateTopic(h Handle, domain uint32, topic string) error {
	if IsBuiltinSecureTopic(topic) {
		return nil
	}
	_, tr, err := e.findTopicRule(domain, topic)
	if err != nil {
		return err
	}
	if !tr.EnableDiscoveryProtection {
		return nil
	}
	r, err := e.lookupRights(h)
	if err != nil {
		return err
	}
	decision, err := e.decideRulesTopicOnly(r.grant, domain, topic)
	if err != nil {
		return err
	}
	if decision != Allow {
		return coreerr.New(coreerr.CodeDeniedByRule, fmt.Sprintf("denied: topic %q", topic))
	}
	return nil
}

// CheckCreateDataWriter decides whether handle may create a writer for
// topic with the given partitions on domain.
func (e *Evaluator) CheckCreateDataWriter(h Handle, domain uint32, topic string, partitions PartitionSet) error {
	return e.decideEndpoint(h, domain, topic, partitions, true)
}

// CheckCreateDataReader decides whether handle may create a reader for
// topic with the given partitions on domain.
func (e *Evaluator) CheckCreateDataReader(h Handle, domain uint32, topic string, partitions PartitionSet) error {
	return e.decideEndpoint(h, domain, topic, partitions, false)
}

// CheckRemoteParticipant decides whether a remote participant validated
// under h may be allowed to match locally.
func (e *Evaluator) CheckRemoteParticipant(h Handle, domain uint32) error {
	return e.CheckCreateParticipant(h, domain)
}

// CheckRemoteTopic mirrors CheckCreateTopic for a remote-discovered topic.
func (e *Evaluator) CheckRemoteTopic(h Handle, domain uint32, topic string) error {
	return e.CheckCreateTopic(h, domain, topic)
}

// CheckRemoteDataWriter mirrors CheckCreateDataWriter for a remote writer.
func (e *Evaluator) CheckRemoteDataWriter(h Handle, domain uint32, topic string, partitions PartitionSet) error {
	return e.decideEndpoint(h, domain, topic, partitions, true)
}

// CheckRemoteDataReader mirrors CheckCreateDataReader for a remote reader.
func (e *Evaluator) CheckRemoteDataReader(h Handle, domain uint32, topic string, partitions PartitionSet) error {
	return e.decideEndpoint(h, domain, topic, partitions, false)
}

func (e *Evaluator) decideEndpoint(h Handle, domain uint32, topic string, partitions PartitionSet, isWrite bool) error {
	if IsBuiltinSecureTopic(topic) {
		return nil
	}
	_, tr, err := e.findTopicRule(domain, topic)
	if err != nil {
		return err
	}
	flagOn := tr.EnableReadAccessControl
	if isWrite {
		flagOn = tr.EnableWriteAccessControl
	}
	if !flagOn {
		return nil
	}

	r, err := e.lookupRights(h)
	if err != nil {
		return err
	}
	decision, err := e.decideRulesEndpoint(r.grant, domain, topic, partitions, isWrite)
	if err != nil {
		return err
	}
	if decision != Allow {
		return coreerr.New(coreerr.CodeDeniedByRule, fmt.Sprintf("denied: %s access to topic %q", accessWord(isWrite), topic))
	}
	return nil
}

func accessWord(isWrite bool) string {
	if isWrite {
		return "write"
	}
	return "read"
}

// findTopicRule locates the domain rule covering domain and, within it,
// the first topic rule whose expression matches topic.
func (e *Evaluator) findTopicRule(domain uint32, topic string) (*DomainRule, *TopicRule, error) {
	dr := e.governance.findDomainRule(domain)
	if dr == nil {
		return nil, nil, coreerr.New(coreerr.CodeDomainNotFound, "domain not found in governance")
	}
	tr := dr.matchTopicRule(glob.Match, topic)
	if tr == nil {
		return nil, nil, coreerr.New(coreerr.CodeTopicNotFound, fmt.Sprintf("topic %q not found in governance", topic))
	}
	return dr, tr, nil
}

// decideRulesTopicOnly walks a grant's allow/deny rules in declared order,
// skipping those whose domain range excludes domain, and returns the first
// rule with any criteria (publish or subscribe) matching topic; falls back
// to the grant's default action. Used for topic-level decisions (e.g.
// discovery protection), which don't care about read/write direction.
func (e *Evaluator) decideRulesTopicOnly(grant *Grant, domain uint32, topic string) (RuleKind, error) {
	for _, rule := range grant.Rules {
		if !rule.coversDomain(domain) {
			continue
		}
		for _, c := range rule.Criteria {
			if matchesAny(c.Topics, topic) {
				return rule.Kind, nil
			}
		}
	}
	return grant.Default, nil
}

// decideRulesEndpoint walks a grant's allow/deny rules in declared order,
// skipping those whose domain range excludes domain, and returns the first
// rule whose direction-matching criteria (publish for a writer, subscribe
// for a reader) match both topic and the partition-containment rule; falls
// back to the grant's default action.
func (e *Evaluator) decideRulesEndpoint(grant *Grant, domain uint32, topic string, partitions PartitionSet, isWrite bool) (RuleKind, error) {
	for _, rule := range grant.Rules {
		if !rule.coversDomain(domain) {
			continue
		}
		for _, c := range rule.Criteria {
			if c.IsWrite != isWrite {
				continue
			}
			if !matchesAny(c.Topics, topic) {
				continue
			}
			if !partitionsMatch(rule.Kind, c.Partitions, partitions.orDefault()) {
				continue
			}
			return rule.Kind, nil
		}
	}
	return grant.Default, nil
}

func matchesAny(patterns []string, s string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if glob.Match(p, s) {
			return true
		}
	}
	return false
}

// partitionsMatch implements the asymmetric allow/deny partition rule: an
// allow matches iff every endpoint partition is in the rule's set, a deny
// matches iff any endpoint partition is in the rule's set. A criterion with
// no partitions stands for the single default partition "".
func partitionsMatch(kind RuleKind, rulePartitions, endpointPartitions []string) bool {
	if len(rulePartitions) == 0 {
		rulePartitions = []string{""}
	}
	contained := func(p string) bool {
		for _, rp := range rulePartitions {
			if glob.Match(rp, p) {
				return true
			}
		}
		return false
	}
	if kind == Allow {
		for _, p := range endpointPartitions {
			if !contained(p) {
				return false
			}
		}
		return true
	}
	for _, p := range endpointPartitions {
		if contained(p) {
			return true
		}
	}
	return false
}

// GetParticipantSecAttributes derives the participant-level attributes for
// domain from the governing domain rule.
func (e *Evaluator) GetParticipantSecAttributes(domain uint32) (ParticipantSecAttributes, error) {
	dr := e.governance.findDomainRule(domain)
	if dr == nil {
		return ParticipantSecAttributes{}, coreerr.New(coreerr.CodeDomainNotFound, "domain not found in governance")
	}
	return ParticipantSecAttributes{
		AllowUnauthenticated:    dr.AllowUnauthenticatedParticipants,
		IsAccessProtected:       dr.EnableJoinAccessControl,
		IsRTPSProtected:         dr.RTPSProtectionKind.protects(),
		IsDiscoveryProtected:    dr.DiscoveryProtectionKind.protects(),
		IsLivelinessProtected:   dr.LivelinessProtectionKind.protects(),
		RTPSEncrypted:           dr.RTPSProtectionKind.encrypts(),
		RTPSOriginAuthenticated: dr.RTPSProtectionKind.authenticatesOrigin(),
	}, nil
}

// GetTopicSecAttributes derives the topic-level attributes for topic on
// domain.
func (e *Evaluator) GetTopicSecAttributes(domain uint32, topic string) (TopicSecAttributes, error) {
	dr := e.governance.findDomainRule(domain)
	if dr == nil {
		return TopicSecAttributes{}, coreerr.New(coreerr.CodeDomainNotFound, "domain not found in governance")
	}
	tr := dr.matchTopicRule(glob.Match, topic)
	if tr == nil {
		return TopicSecAttributes{}, coreerr.New(coreerr.CodeTopicNotFound, "topic not found in governance")
	}
	return TopicSecAttributes{
		IsReadProtected:       tr.EnableReadAccessControl,
		IsWriteProtected:      tr.EnableWriteAccessControl,
		IsDiscoveryProtected:  tr.EnableDiscoveryProtection,
		IsLivelinessProtected: tr.EnableLivelinessProtection,
	}, nil
}

// GetDataWriterSecAttributes and GetDataReaderSecAttributes derive endpoint
// attributes, adding payload/key protection from data_protection_kind and
// submessage protection from metadata_protection_kind.
func (e *Evaluator) GetDataWriterSecAttributes(domain uint32, topic string) (EndpointSecAttributes, error) {
	return e.getEndpointSecAttributes(domain, topic)
}

func (e *Evaluator) GetDataReaderSecAttributes(domain uint32, topic string) (EndpointSecAttributes, error) {
	return e.getEndpointSecAttributes(domain, topic)
}

func (e *Evaluator) getEndpointSecAttributes(domain uint32, topic string) (EndpointSecAttributes, error) {
	topicAttrs, err := e.GetTopicSecAttributes(domain, topic)
	if err != nil {
		return EndpointSecAttributes{}, err
	}
	dr := e.governance.findDomainRule(domain)
	tr := dr.matchTopicRule(glob.Match, topic)
	return EndpointSecAttributes{
		TopicSecAttributes:              topicAttrs,
		IsPayloadEncrypted:              tr.DataProtectionKind.encrypts(),
		IsKeyProtected:                  tr.DataProtectionKind.encrypts(),
		IsSubmessageProtected:           tr.MetadataProtectionKind.protects(),
		IsSubmessageOriginAuthenticated: tr.MetadataProtectionKind.authenticatesOrigin(),
	}, nil
}

// GetPermissionsToken and GetPermissionsCredentialToken identify the
// plugin and carry the subject name, used by the remote side to validate
// compatibility before calling ValidateRemotePermissions.
type PermissionsToken struct {
	PluginClassName string
	SubjectName     string
}

func (e *Evaluator) GetPermissionsToken(h Handle) (PermissionsToken, error) {
	r, err := e.lookupRights(h)
	if err != nil {
		return PermissionsToken{}, err
	}
	return PermissionsToken{PluginClassName: "ddscore.access.builtin", SubjectName: r.subjectName}, nil
}

// GetPermissionsCredentialToken returns the wire-transmissible form of a
// PermissionsToken: a JWT signed with this Evaluator's HMAC key, which only
// a holder of that same key can verify, via VerifyPermissionsCredential.
func (e *Evaluator) GetPermissionsCredentialToken(h Handle) (string, error) {
	tok, err := e.GetPermissionsToken(h)
	if err != nil {
		return "", err
	}
	return e.credentials.sign(tok)
}

// VerifyPermissionsCredential checks a credential produced by
// GetPermissionsCredentialToken (this Evaluator's own, or one forwarded
// from a participant sharing its signing key) and recovers the token it
// carries.
func (e *Evaluator) VerifyPermissionsCredential(credential string) (PermissionsToken, error) {
	return e.credentials.verify(credential)
}

// ReturnHandle releases the table's reference obtained implicitly by a
// successful ValidateLocalPermissions/ValidateRemotePermissions call.
func (e *Evaluator) ReturnHandle(h Handle) {
	e.table.Remove(h)
}

// CheckLocalDataWriterMatch and CheckLocalDataReaderMatch are no-ops
// pending a DataTagging plug-in that never shipped for this core; the
// entry points are kept so callers that expect them don't need a feature
// check.
func (e *Evaluator) CheckLocalDataWriterMatch(Handle, Handle) error { return nil }
func (e *Evaluator) CheckLocalDataReaderMatch(Handle, Handle) error { return nil }
