package service

import (
	"testing"

	"oneclaw/internal/domain"
	"oneclaw/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newIdentityService(t *testing.T) (*IdentityService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return NewIdentityService(repository.NewIdentityRepository(gdb)), mock
}

func identityRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "provider", "provider_user_id", "tenant_id", "username", "email"})
}

func TestResolveExistingMapping(t *testing.T) {
	svc, mock := newIdentityService(t)

	mock.ExpectQuery("SELECT .* FROM `platform_identities` WHERE provider").
		WillReturnRows(identityRows().AddRow(1, domain.ProviderDiscord, "u1", "tenant-1", "alice", ""))

	tenantID, err := svc.Resolve(domain.ProviderDiscord, "u1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tenantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveMintsTenantOnFirstContact(t *testing.T) {
	svc, mock := newIdentityService(t)

	mock.ExpectQuery("SELECT .* FROM `platform_identities` WHERE provider").
		WillReturnRows(identityRows())
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `platform_identities`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tenantID, err := svc.Resolve(domain.ProviderDiscord, "u1", "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, tenantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Two deliveries for a brand new user race to create the mapping; the loser
// must adopt the winner's tenant, never mint a second one.
func TestResolveCreationRace(t *testing.T) {
	svc, mock := newIdentityService(t)

	mock.ExpectQuery("SELECT .* FROM `platform_identities` WHERE provider").
		WillReturnRows(identityRows())
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `platform_identities`").
		WillReturnError(gorm.ErrDuplicatedKey)
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT .* FROM `platform_identities` WHERE provider").
		WillReturnRows(identityRows().AddRow(1, domain.ProviderDiscord, "u1", "tenant-winner", "alice", ""))

	tenantID, err := svc.Resolve(domain.ProviderDiscord, "u1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "tenant-winner", tenantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkAlreadyLinkedToOtherTenant(t *testing.T) {
	svc, mock := newIdentityService(t)

	mock.ExpectQuery("SELECT .* FROM `platform_identities` WHERE provider").
		WillReturnRows(identityRows().AddRow(1, domain.ProviderGoogle, "g1", "tenant-other", "bob", "b@c.co"))

	err := svc.Link("tenant-1", domain.ProviderGoogle, "g1", "bob", "b@c.co")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already linked")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkIdempotentForSameTenant(t *testing.T) {
	svc, mock := newIdentityService(t)

	mock.ExpectQuery("SELECT .* FROM `platform_identities` WHERE provider").
		WillReturnRows(identityRows().AddRow(1, domain.ProviderGoogle, "g1", "tenant-1", "bob", "b@c.co"))

	err := svc.Link("tenant-1", domain.ProviderGoogle, "g1", "bob", "b@c.co")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkCreatesNewMapping(t *testing.T) {
	svc, mock := newIdentityService(t)

	mock.ExpectQuery("SELECT .* FROM `platform_identities` WHERE provider").
		WillReturnRows(identityRows())
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `platform_identities`").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := svc.Link("tenant-1", domain.ProviderGoogle, "g1", "bob", "b@c.co")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
