package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/observability"
	"github.com/BlockXAI/Ginie-User-Management/internal/repository"
	"github.com/BlockXAI/Ginie-User-Management/internal/security"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type entitlementFixture struct {
	svc   *EntitlementService
	users repository.UserRepository
	rdb   *redis.Client
}

func newEntitlementFixture(t *testing.T) *entitlementFixture {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.PremiumKey{}, &domain.Entitlement{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	users := repository.NewUserRepository(db)
	svc := NewEntitlementService(
		users,
		repository.NewPremiumKeyRepository(db),
		repository.NewEntitlementRepository(db),
		security.NewCodec("test-key-secret"),
		NewAccessProfileCache(rdb, 5*time.Minute),
		observability.NewMemorySink(),
		slog.New(slog.DiscardHandler),
	)
	return &entitlementFixture{svc: svc, users: users, rdb: rdb}
}

func (f *entitlementFixture) newUser(t *testing.T, role domain.Role) *domain.User {
	t.Helper()
	u, err := f.users.FindOrCreateByEmail(context.Background(), uuid.NewString()+"@example.com", role)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestMintAndRedeemGrantsPro(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()

	admin := f.newUser(t, domain.RoleAdmin)
	user := f.newUser(t, domain.RoleNormal)

	minted, err := f.svc.Mint(ctx, admin.ID, nil)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !strings.HasPrefix(minted.Raw, "ginie_") {
		t.Fatalf("raw key = %q, want ginie_ prefix", minted.Raw)
	}
	if strings.Contains(minted.Key.SecretHash, minted.Raw) {
		t.Fatal("raw secret leaked into stored hash")
	}

	key, err := f.svc.Redeem(ctx, user.ID, minted.Raw)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if key.Status != domain.KeyStatusRedeemed {
		t.Fatalf("status = %q", key.Status)
	}

	p, err := f.svc.Profile(ctx, user.ID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.Role != domain.RolePro {
		t.Fatalf("role = %q, want pro", p.Role)
	}
	if p.Entitlement == nil || !p.Entitlement.ProEnabled {
		t.Fatalf("entitlement = %+v, want pro_enabled", p.Entitlement)
	}
}

func TestRedeemSecondAttemptConflicts(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()

	admin := f.newUser(t, domain.RoleAdmin)
	a := f.newUser(t, domain.RoleNormal)
	b := f.newUser(t, domain.RoleNormal)

	minted, err := f.svc.Mint(ctx, admin.ID, nil)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := f.svc.Redeem(ctx, a.ID, minted.Raw); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if _, err := f.svc.Redeem(ctx, b.ID, minted.Raw); !errors.Is(err, ErrKeyAlreadyUsed) {
		t.Fatalf("second redeem err = %v, want ErrKeyAlreadyUsed", err)
	}
}

func TestRedeemRejectsMalformedAndUnknownKeys(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	user := f.newUser(t, domain.RoleNormal)

	for _, raw := range []string{"", "   ", "not-a-key", "ginie_doesnotexist"} {
		if _, err := f.svc.Redeem(ctx, user.ID, raw); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("redeem %q err = %v, want ErrInvalidKey", raw, err)
		}
	}
}

func TestRedeemExpiredKeyIsInvalid(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()

	admin := f.newUser(t, domain.RoleAdmin)
	user := f.newUser(t, domain.RoleNormal)

	past := time.Now().Add(-time.Hour)
	minted, err := f.svc.Mint(ctx, admin.ID, &past)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := f.svc.Redeem(ctx, user.ID, minted.Raw); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("redeem expired err = %v, want ErrInvalidKey", err)
	}
}

func TestRevokeKeyTransitions(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()

	admin := f.newUser(t, domain.RoleAdmin)
	user := f.newUser(t, domain.RoleNormal)

	minted, err := f.svc.Mint(ctx, admin.ID, nil)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.svc.RevokeKey(ctx, minted.Key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := f.svc.RevokeKey(ctx, minted.Key.ID); err != nil {
		t.Fatalf("revoke twice: %v", err)
	}
	if _, err := f.svc.Redeem(ctx, user.ID, minted.Raw); !errors.Is(err, ErrKeyAlreadyUsed) {
		t.Fatalf("redeem revoked err = %v", err)
	}

	redeemed, err := f.svc.Mint(ctx, admin.ID, nil)
	if err != nil {
		t.Fatalf("mint second: %v", err)
	}
	if _, err := f.svc.Redeem(ctx, user.ID, redeemed.Raw); err != nil {
		t.Fatalf("redeem second: %v", err)
	}
	if err := f.svc.RevokeKey(ctx, redeemed.Key.ID); !errors.Is(err, ErrKeyAlreadyUsed) {
		t.Fatalf("revoke redeemed err = %v, want ErrKeyAlreadyUsed", err)
	}
}

func TestProfileCacheInvalidatedOnChanges(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	user := f.newUser(t, domain.RoleNormal)

	p, err := f.svc.Profile(ctx, user.ID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.Role != domain.RoleNormal {
		t.Fatalf("role = %q", p.Role)
	}

	// A role change must not serve the stale cached profile.
	if err := f.svc.SetRole(ctx, user.ID, domain.RolePro); err != nil {
		t.Fatalf("set role: %v", err)
	}
	p, err = f.svc.Profile(ctx, user.ID)
	if err != nil || p.Role != domain.RolePro {
		t.Fatalf("profile after role change = %+v err = %v", p, err)
	}

	if err := f.svc.SetEntitlements(ctx, &domain.Entitlement{UserID: user.ID, HistoryExport: true}); err != nil {
		t.Fatalf("set entitlements: %v", err)
	}
	p, err = f.svc.Profile(ctx, user.ID)
	if err != nil || p.Entitlement == nil || !p.Entitlement.HistoryExport {
		t.Fatalf("profile after entitlement change = %+v err = %v", p, err)
	}
}

func TestSetEntitlementsRequiresExistingUser(t *testing.T) {
	f := newEntitlementFixture(t)
	err := f.svc.SetEntitlements(context.Background(), &domain.Entitlement{UserID: uuid.NewString()})
	if !errors.Is(err, repository.ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

// Wallet deployments are granted through two sources that must agree: the
// dedicated flag, and pro access itself (pro_enabled or a pro/admin role).
func TestWalletDeploymentsDualSourceParity(t *testing.T) {
	cases := []struct {
		name string
		p    AccessProfile
		want bool
	}{
		{"nothing", AccessProfile{Role: domain.RoleNormal}, false},
		{"flag only", AccessProfile{Role: domain.RoleNormal, Entitlement: &domain.Entitlement{WalletDeployments: true}}, true},
		{"pro_enabled only", AccessProfile{Role: domain.RoleNormal, Entitlement: &domain.Entitlement{ProEnabled: true}}, true},
		{"pro role only", AccessProfile{Role: domain.RolePro}, true},
		{"admin role only", AccessProfile{Role: domain.RoleAdmin}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.p.Allows(domain.FlagWalletDeployments); got != tc.want {
				t.Fatalf("Allows(wallet_deployments) = %v, want %v", got, tc.want)
			}
			// Other flags never inherit from pro access.
			if tc.p.Entitlement == nil || !tc.p.Entitlement.HistoryExport {
				if tc.p.Allows(domain.FlagHistoryExport) {
					t.Fatal("history_export must require its own flag")
				}
			}
		})
	}
}

func TestHasFeatureReadsThroughProfile(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	user := f.newUser(t, domain.RoleNormal)

	ok, err := f.svc.HasFeature(ctx, user.ID, domain.FlagWalletDeployments)
	if err != nil || ok {
		t.Fatalf("normal user wallet = %v err = %v", ok, err)
	}
	if err := f.svc.SetRole(ctx, user.ID, domain.RolePro); err != nil {
		t.Fatalf("set role: %v", err)
	}
	ok, err = f.svc.HasFeature(ctx, user.ID, domain.FlagWalletDeployments)
	if err != nil || !ok {
		t.Fatalf("pro user wallet = %v err = %v", ok, err)
	}
}
