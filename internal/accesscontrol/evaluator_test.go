package accesscontrol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ddscore/internal/coreerr"
	"ddscore/internal/dispatcher"
)

func mustGovernance(t *testing.T, xmlDoc string) *Governance {
	t.Helper()
	gov, err := ParseGovernance([]byte(xmlDoc))
	require.NoError(t, err)
	return gov
}

func mustPermissions(t *testing.T, xmlDoc string) *Permissions {
	t.Helper()
	perms, err := ParsePermissions([]byte(xmlDoc))
	require.NoError(t, err)
	return perms
}

// Scenario 1: single rule over [0,230], join-access-control off, no topic
// protection; permissions grant for CN=alice, default ALLOW.
func TestScenario1AllowDefaultNoProtection(t *testing.T) {
	gov := mustGovernance(t, `<dds><domain_access_rules><domain_rule>
		<domains><id_range><min>0</min><max>230</max></id_range></domains>
		<enable_join_access_control>false</enable_join_access_control>
		<topic_access_rules><topic_rule>
			<topic_expression>*</topic_expression>
			<metadata_protection_kind>NONE</metadata_protection_kind>
			<data_protection_kind>NONE</data_protection_kind>
		</topic_rule></topic_access_rules>
	</domain_rule></domain_access_rules></dds>`)
	perms := mustPermissions(t, `<dds><permissions><grant name="g1">
		<subject_name>CN=alice</subject_name>
		<validity><not_before>2000-01-01T00:00:00Z</not_before><not_after>2100-01-01T00:00:00Z</not_after></validity>
		<default>ALLOW</default>
	</grant></permissions></dds>`)

	d := dispatcher.New(dispatcher.NewTimerQueue())
	defer d.Free()
	d.Enable()
	e := NewEvaluator(gov, perms, d)

	h, err := e.ValidateLocalPermissions("CN=alice", 5)
	require.NoError(t, err)

	assert.NoError(t, e.CheckCreateParticipant(h, 5))
	assert.NoError(t, e.CheckCreateDataWriter(h, 5, "T", PartitionSet{"A"}))

	attrs, err := e.GetDataWriterSecAttributes(5, "T")
	require.NoError(t, err)
	assert.False(t, attrs.IsSubmessageProtected)
}

// Scenario 2: same governance, permissions default DENY.
func TestScenario2DenyDefault(t *testing.T) {
	gov := mustGovernance(t, `<dds><domain_access_rules><domain_rule>
		<domains><id_range><min>0</min><max>230</max></id_range></domains>
		<enable_join_access_control>false</enable_join_access_control>
		<topic_access_rules><topic_rule>
			<topic_expression>*</topic_expression>
			<enable_read_access_control>true</enable_read_access_control>
			<enable_write_access_control>true</enable_write_access_control>
		</topic_rule></topic_access_rules>
	</domain_rule></domain_access_rules></dds>`)
	perms := mustPermissions(t, `<dds><permissions><grant name="g1">
		<subject_name>CN=alice</subject_name>
		<validity><not_before>2000-01-01T00:00:00Z</not_before><not_after>2100-01-01T00:00:00Z</not_after></validity>
		<default>DENY</default>
	</grant></permissions></dds>`)

	d := dispatcher.New(dispatcher.NewTimerQueue())
	defer d.Free()
	d.Enable()
	e := NewEvaluator(gov, perms, d)

	h, err := e.ValidateLocalPermissions("CN=alice", 5)
	require.NoError(t, err)

	assert.Error(t, e.CheckCreateDataWriter(h, 5, "T", PartitionSet{"A"}))
	assert.Error(t, e.CheckCreateDataReader(h, 5, "T", PartitionSet{"A"}))
}

// Scenario 3: domain 1, join-access-control on, metadata ENCRYPT; allow
// rule subscribe topics=["Chat*"] partitions=["room/*"], default DENY.
func TestScenario3PartitionGatedSubscribe(t *testing.T) {
	gov := mustGovernance(t, `<dds><domain_access_rules><domain_rule>
		<domains><id>1</id></domains>
		<enable_join_access_control>true</enable_join_access_control>
		<topic_access_rules><topic_rule>
			<topic_expression>*</topic_expression>
			<enable_read_access_control>true</enable_read_access_control>
			<enable_write_access_control>true</enable_write_access_control>
			<metadata_protection_kind>ENCRYPT</metadata_protection_kind>
		</topic_rule></topic_access_rules>
	</domain_rule></domain_access_rules></dds>`)
	perms := mustPermissions(t, `<dds><permissions><grant name="g1">
		<subject_name>CN=alice</subject_name>
		<validity><not_before>2000-01-01T00:00:00Z</not_before><not_after>2100-01-01T00:00:00Z</not_after></validity>
		<allow_rule>
			<domains/>
			<subscribe>
				<topics><topic>Chat*</topic></topics>
				<partitions><partition>room/*</partition></partitions>
			</subscribe>
		</allow_rule>
		<default>DENY</default>
	</grant></permissions></dds>`)

	d := dispatcher.New(dispatcher.NewTimerQueue())
	defer d.Free()
	d.Enable()
	e := NewEvaluator(gov, perms, d)

	h, err := e.ValidateLocalPermissions("CN=alice", 1)
	require.NoError(t, err)

	assert.NoError(t, e.CheckCreateDataReader(h, 1, "ChatLog", PartitionSet{"room/lobby"}))
	assert.Error(t, e.CheckCreateDataReader(h, 1, "ChatLog", PartitionSet{"admin"}))
	assert.Error(t, e.CheckCreateDataWriter(h, 1, "ChatLog", PartitionSet{"room/lobby"}))
}

// Scenario 4: not_after 150ms in the future fires the revoke listener.
func TestScenario4PermissionExpiryFiresListener(t *testing.T) {
	gov := mustGovernance(t, `<dds><domain_access_rules><domain_rule>
		<domains><id>0</id></domains>
		<enable_join_access_control>false</enable_join_access_control>
	</domain_rule></domain_access_rules></dds>`)
	notAfter := time.Now().Add(150 * time.Millisecond).UTC().Format(time.RFC3339)
	perms := mustPermissions(t, `<dds><permissions><grant name="g1">
		<subject_name>CN=alice</subject_name>
		<validity><not_before>2000-01-01T00:00:00Z</not_before><not_after>`+notAfter+`</not_after></validity>
		<default>ALLOW</default>
	</grant></permissions></dds>`)

	d := dispatcher.New(dispatcher.NewTimerQueue())
	defer d.Free()
	d.Enable()
	e := NewEvaluator(gov, perms, d)

	revoked := make(chan Handle, 1)
	e.SetListener(func(h Handle) { revoked <- h })

	h, err := e.ValidateLocalPermissions("CN=alice", 0)
	require.NoError(t, err)

	select {
	case got := <-revoked:
		assert.Equal(t, h, got)
	case <-time.After(2 * time.Second):
		t.Fatal("revoke listener never fired")
	}
}

// Scenario 5: remote permissions token plugin class mismatch.
func TestScenario5IncompatibleRemotePlugin(t *testing.T) {
	gov := mustGovernance(t, `<dds><domain_access_rules><domain_rule>
		<domains><id>0</id></domains>
		<enable_join_access_control>false</enable_join_access_control>
	</domain_rule></domain_access_rules></dds>`)
	perms := mustPermissions(t, `<dds><permissions><grant name="g1">
		<subject_name>CN=bob</subject_name>
		<validity><not_before>2000-01-01T00:00:00Z</not_before><not_after>2100-01-01T00:00:00Z</not_after></validity>
		<default>ALLOW</default>
	</grant></permissions></dds>`)

	d := dispatcher.New(dispatcher.NewTimerQueue())
	defer d.Free()
	d.Enable()
	e := NewEvaluator(gov, perms, d)

	_, err := e.ValidateRemotePermissions("ddscore.access.builtin", "other-vendor.access.v1", "CN=bob", 0)
	require.Error(t, err)
	assert.Equal(t, coreerr.CodeIncompatiblePlugin, coreerr.CodeOf(err))
}

func TestPermissionsCredentialTokenRoundTrips(t *testing.T) {
	gov := mustGovernance(t, `<dds><domain_access_rules><domain_rule>
		<domains><id>0</id></domains>
		<enable_join_access_control>false</enable_join_access_control>
	</domain_rule></domain_access_rules></dds>`)
	perms := mustPermissions(t, `<dds><permissions><grant name="g1">
		<subject_name>CN=carol</subject_name>
		<validity><not_before>2000-01-01T00:00:00Z</not_before><not_after>2100-01-01T00:00:00Z</not_after></validity>
		<default>ALLOW</default>
	</grant></permissions></dds>`)

	d := dispatcher.New(dispatcher.NewTimerQueue())
	defer d.Free()
	d.Enable()
	e := NewEvaluator(gov, perms, d)

	h, err := e.ValidateLocalPermissions("CN=carol", 0)
	require.NoError(t, err)

	credential, err := e.GetPermissionsCredentialToken(h)
	require.NoError(t, err)
	assert.NotEmpty(t, credential)

	tok, err := e.VerifyPermissionsCredential(credential)
	require.NoError(t, err)
	assert.Equal(t, "ddscore.access.builtin", tok.PluginClassName)
	assert.Equal(t, "CN=carol", tok.SubjectName)
}

func TestPermissionsCredentialTokenRejectsForeignKey(t *testing.T) {
	gov := mustGovernance(t, `<dds><domain_access_rules><domain_rule>
		<domains><id>0</id></domains>
		<enable_join_access_control>false</enable_join_access_control>
	</domain_rule></domain_access_rules></dds>`)
	perms := mustPermissions(t, `<dds><permissions><grant name="g1">
		<subject_name>CN=dave</subject_name>
		<validity><not_before>2000-01-01T00:00:00Z</not_before><not_after>2100-01-01T00:00:00Z</not_after></validity>
		<default>ALLOW</default>
	</grant></permissions></dds>`)

	d := dispatcher.New(dispatcher.NewTimerQueue())
	defer d.Free()
	d.Enable()
	eA := NewEvaluator(gov, perms, d)
	eB := NewEvaluator(gov, perms, d)

	h, err := eA.ValidateLocalPermissions("CN=dave", 0)
	require.NoError(t, err)
	credential, err := eA.GetPermissionsCredentialToken(h)
	require.NoError(t, err)

	_, err = eB.VerifyPermissionsCredential(credential)
	require.Error(t, err)
}
