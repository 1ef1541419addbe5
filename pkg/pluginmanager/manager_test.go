package pluginmanager

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newTestKeyring(t *testing.T) (*Keyring, *ecdsa.PrivateKey) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	kr, err := NewKeyring(block)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	return kr, priv
}

func TestVerifyAndLoadManifestAllowUnsignedSkipsSignature(t *testing.T) {
	m := &Manager{AllowUnsigned: true}
	manifest, keyID, err := m.VerifyAndLoadManifest(validManifestJSON(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if keyID != "" {
		t.Fatalf("expected empty keyID for an unsigned manifest, got %q", keyID)
	}
	if len(manifest.Plugins) != 1 {
		t.Fatalf("expected manifest to parse through")
	}
}

func TestVerifyAndLoadManifestRejectsMissingKeyringWhenSignedRequired(t *testing.T) {
	m := &Manager{}
	if _, _, err := m.VerifyAndLoadManifest(validManifestJSON(), []byte("sig")); err == nil {
		t.Fatalf("expected an error with no keyring and signing required")
	}
}

func TestVerifyAndLoadManifestVerifiesSignature(t *testing.T) {
	kr, priv := newTestKeyring(t)
	data := validManifestJSON()
	sum := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, sum[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	m := &Manager{Keyring: kr}
	manifest, keyID, err := m.VerifyAndLoadManifest(data, sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if keyID == "" {
		t.Fatalf("expected a matching key id")
	}
	if len(manifest.Plugins) != 1 {
		t.Fatalf("expected manifest to parse through")
	}
}

func TestVerifyAndLoadManifestRejectsTamperedSignature(t *testing.T) {
	kr, priv := newTestKeyring(t)
	data := validManifestJSON()
	sum := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, sum[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	m := &Manager{Keyring: kr}
	tampered := append([]byte{}, data...)
	tampered[0] ^= 0xFF
	if _, _, err := m.VerifyAndLoadManifest(tampered, sig); err == nil {
		t.Fatalf("expected signature verification to fail on tampered bytes")
	}
}

func TestCheckTierPolicyDeniesExperimentalByDefault(t *testing.T) {
	m := &Manager{}
	err := m.CheckTierPolicy([]PluginRecord{{ID: "beta-check", Tier: TierExperimental}})
	if err == nil {
		t.Fatalf("expected experimental plugin to be denied without --allow-experimental")
	}
}

func TestCheckTierPolicyAllowsExperimentalWhenOptedIn(t *testing.T) {
	m := &Manager{AllowExperimental: true}
	if err := m.CheckTierPolicy([]PluginRecord{{ID: "beta-check", Tier: TierExperimental}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckTierPolicyAllowsCommunityAlways(t *testing.T) {
	m := &Manager{}
	if err := m.CheckTierPolicy([]PluginRecord{{ID: "lint-basic", Tier: TierCommunity}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func testManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	return NewManager(root, nil), root
}

func TestUpdateAddsAndRemovesFiles(t *testing.T) {
	m, root := testManager(t)
	lf := &Lockfile{}

	src1 := filepath.Join(root, "v1")
	writeTestFile(t, filepath.Join(src1, "plugin.toml"), "v1")
	writeTestFile(t, filepath.Join(src1, "old.txt"), "old content")
	plan1, err := BuildInstallPlan("sample", src1)
	if err != nil {
		t.Fatalf("build plan 1: %v", err)
	}
	if err := m.Install(plan1, lf, false); err != nil {
		t.Fatalf("install: %v", err)
	}

	src2 := filepath.Join(root, "v2")
	writeTestFile(t, filepath.Join(src2, "plugin.toml"), "v2")
	writeTestFile(t, filepath.Join(src2, "new.txt"), "new content")
	plan2, err := BuildInstallPlan("sample", src2)
	if err != nil {
		t.Fatalf("build plan 2: %v", err)
	}
	if err := m.Update(plan2, lf, false); err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, err := os.Stat(filepath.Join(m.PluginsDir, "sample", "old.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected old.txt to be removed by update, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(m.PluginsDir, "sample", "new.txt")); err != nil {
		t.Fatalf("expected new.txt to be staged by update: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(m.PluginsDir, "sample", "plugin.toml"))
	if err != nil || string(data) != "v2" {
		t.Fatalf("expected plugin.toml refreshed to v2, got %q err=%v", data, err)
	}
}

func TestUpdateRejectsDriftedFileWithoutForce(t *testing.T) {
	m, root := testManager(t)
	lf := &Lockfile{}

	src1 := filepath.Join(root, "v1")
	writeTestFile(t, filepath.Join(src1, "plugin.toml"), "v1")
	plan1, err := BuildInstallPlan("sample", src1)
	if err != nil {
		t.Fatalf("build plan 1: %v", err)
	}
	if err := m.Install(plan1, lf, false); err != nil {
		t.Fatalf("install: %v", err)
	}

	// simulate out-of-band local drift on the installed file.
	writeTestFile(t, filepath.Join(m.PluginsDir, "sample", "plugin.toml"), "tampered")

	src2 := filepath.Join(root, "v2")
	writeTestFile(t, filepath.Join(src2, "plugin.toml"), "v2")
	plan2, err := BuildInstallPlan("sample", src2)
	if err != nil {
		t.Fatalf("build plan 2: %v", err)
	}
	if err := m.Update(plan2, lf, false); err == nil {
		t.Fatalf("expected update to reject drifted file without --force")
	}
	if err := m.Update(plan2, lf, true); err != nil {
		t.Fatalf("expected --force to override drift, got %v", err)
	}
}

func TestListAndInfoReflectInstalledPlugin(t *testing.T) {
	m, root := testManager(t)
	lf := &Lockfile{}

	src := filepath.Join(root, "v1")
	writeTestFile(t, filepath.Join(src, "plugin.toml"), "v1")
	plan, err := BuildInstallPlan("sample", src)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if err := m.Install(plan, lf, false); err != nil {
		t.Fatalf("install: %v", err)
	}

	summaries := m.List(lf)
	if len(summaries) != 1 || summaries[0].PluginID != "sample" || summaries[0].FileCount != 1 {
		t.Fatalf("unexpected list result: %+v", summaries)
	}

	info, err := m.Info(lf, "sample")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(info.Files) != 1 || info.Files[0].Path != "plugins/sample/plugin.toml" {
		t.Fatalf("unexpected info result: %+v", info)
	}

	if _, err := m.Info(lf, "does-not-exist"); err == nil {
		t.Fatalf("expected an error for an uninstalled plugin id")
	}
}
