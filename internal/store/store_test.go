package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenAppliesPragmas(t *testing.T) {
	db := testDB(t)

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestOpenMissingDirectory(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "absent", "lensdm.db")); err == nil {
		t.Error("Open() in a missing directory should fail")
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
	if result.Dirty {
		t.Error("schema is dirty")
	}
}

func TestProfileUpsertAndGet(t *testing.T) {
	db := testDB(t)

	p := &ProfileRow{AccountID: "0x01", ConversationKey: "0xabc/lens.dev/dm/0x01-0x02", ProfileID: "0x02", Handle: "bob.lens", OwnedBy: "0xabc"}
	if err := db.UpsertProfile(p); err != nil {
		t.Fatal(err)
	}
	p.IsFollowedByMe = true
	if err := db.UpsertProfile(p); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetProfile("0x01", p.ConversationKey)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !got.IsFollowedByMe || got.Handle != "bob.lens" {
		t.Errorf("got %+v, want followed bob.lens", got)
	}

	count, err := db.ProfileCount("0x01")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (one snapshot per key)", count)
	}

	// Other accounts are partitioned away.
	other, err := db.GetProfile("0x09", p.ConversationKey)
	if err != nil {
		t.Fatal(err)
	}
	if other != nil {
		t.Errorf("expected no snapshot for another account, got %+v", other)
	}
}

func TestListProfilesKeepsDiscoveryOrder(t *testing.T) {
	db := testDB(t)

	for _, k := range []string{"k1", "k2", "k3"} {
		if err := db.UpsertProfile(&ProfileRow{AccountID: "a", ConversationKey: k, ProfileID: "p-" + k}); err != nil {
			t.Fatal(err)
		}
	}
	// Overwriting k1 must not move it to the end.
	if err := db.UpsertProfile(&ProfileRow{AccountID: "a", ConversationKey: "k1", ProfileID: "p-k1", Handle: "new"}); err != nil {
		t.Fatal(err)
	}

	rows, err := db.ListProfiles("a")
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	for _, r := range rows {
		keys = append(keys, r.ConversationKey)
	}
	if len(keys) != 3 || keys[0] != "k1" || keys[1] != "k2" || keys[2] != "k3" {
		t.Errorf("keys = %v, want [k1 k2 k3]", keys)
	}
	if rows[0].Handle != "new" {
		t.Errorf("handle = %q, want new", rows[0].Handle)
	}
}

func TestDeleteProfilesByID(t *testing.T) {
	db := testDB(t)

	rows := []ProfileRow{
		{AccountID: "a", ConversationKey: "k1", ProfileID: "0x02"},
		{AccountID: "a", ConversationKey: "k2", ProfileID: "0x02"},
		{AccountID: "a", ConversationKey: "k3", ProfileID: "0x03"},
		{AccountID: "b", ConversationKey: "k1", ProfileID: "0x02"},
	}
	for i := range rows {
		if err := db.UpsertProfile(&rows[i]); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := db.DeleteProfilesByID("a", "0x02")
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 {
		t.Errorf("removed %v, want 2 keys", removed)
	}

	left, _ := db.ListProfiles("a")
	if len(left) != 1 || left[0].ConversationKey != "k3" {
		t.Errorf("left = %+v, want only k3", left)
	}
	untouched, _ := db.ListProfiles("b")
	if len(untouched) != 1 {
		t.Errorf("account b lost its snapshot: %+v", untouched)
	}
}

func TestBadges(t *testing.T) {
	db := testDB(t)

	if err := db.SetBadge("0x02", 3); err != nil {
		t.Fatal(err)
	}
	if err := db.SetBadge("0x03", 0); err != nil {
		t.Fatal(err)
	}
	if err := db.SetBadge("0x04", -1); err == nil {
		t.Error("negative badge count should violate the CHECK constraint")
	}

	badges, err := db.ListBadges()
	if err != nil {
		t.Fatal(err)
	}
	if len(badges) != 1 || badges[0].ProfileID != "0x02" || badges[0].Count != 3 {
		t.Errorf("badges = %+v, want [{0x02 3}]", badges)
	}
}

func TestKV(t *testing.T) {
	db := testDB(t)

	if _, ok, err := db.Get("missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v", ok, err)
	}
	if err := db.Put("tab", "INBOX"); err != nil {
		t.Fatal(err)
	}
	if err := db.Put("tab", "FOLLOWING"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := db.Get("tab")
	if err != nil || !ok || v != "FOLLOWING" {
		t.Errorf("Get(tab) = %q, %v, %v", v, ok, err)
	}
	if err := db.Delete("tab"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.Get("tab"); ok {
		t.Error("tab still present after Delete")
	}
}

func TestReset(t *testing.T) {
	db := testDB(t)

	_ = db.UpsertProfile(&ProfileRow{AccountID: "a", ConversationKey: "k", ProfileID: "p"})
	_ = db.SetBadge("p", 2)
	_ = db.Put("k", "v")

	if err := db.Reset(); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.ProfileCount("a"); n != 0 {
		t.Errorf("profiles left = %d", n)
	}
	if b, _ := db.ListBadges(); len(b) != 0 {
		t.Errorf("badges left = %+v", b)
	}
	if _, ok, _ := db.Get("k"); ok {
		t.Error("kv entry left after Reset")
	}
}
