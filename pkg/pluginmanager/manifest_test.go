package pluginmanager

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"testing"
)

func validManifestJSON() []byte {
	m := Manifest{
		Version:       "1",
		ArchiveFile:   "release.tar.gz",
		ArchiveSHA256: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Plugins: []PluginRecord{
			{ID: "lint-basic", PathInArchive: "lint-basic", Tier: TierCommunity},
		},
		Packs: []PackRecord{
			{ID: "starter", Plugins: []string{"lint-basic"}},
		},
	}
	data, _ := json.Marshal(m)
	return data
}

func TestParseManifestAcceptsValid(t *testing.T) {
	m, err := ParseManifest(validManifestJSON())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Plugins) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(m.Plugins))
	}
}

func TestParseManifestRejectsSchemaInvalidStructure(t *testing.T) {
	// plugins[0] is missing the required "tier" property.
	raw := []byte(`{"archive_file":"release.tar.gz","archive_sha256":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa","plugins":[{"id":"lint-basic"}]}`)
	if _, err := ParseManifest(raw); err == nil {
		t.Fatalf("expected schema validation to reject a plugin entry missing tier")
	}
}

func TestParseManifestRejectsInvalidCompatRange(t *testing.T) {
	m := Manifest{
		ArchiveFile:   "release.tar.gz",
		ArchiveSHA256: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Plugins:       []PluginRecord{{ID: "lint-basic", Tier: TierCommunity, Compat: "not a range"}},
		Packs:         []PackRecord{},
	}
	data, _ := json.Marshal(m)
	if _, err := ParseManifest(data); err == nil {
		t.Fatalf("expected error for an unparseable compat range")
	}
}

func TestCheckCompatSatisfiesRange(t *testing.T) {
	ok, err := CheckCompat(">= 1.0.0, < 2.0.0", "1.4.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected 1.4.0 to satisfy >= 1.0.0, < 2.0.0")
	}
}

func TestCheckCompatRejectsOutOfRange(t *testing.T) {
	ok, err := CheckCompat(">= 2.0.0", "1.4.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected 1.4.0 not to satisfy >= 2.0.0")
	}
}

func TestCheckCompatEmptyRangeAlwaysSatisfied(t *testing.T) {
	ok, err := CheckCompat("", "0.0.1")
	if err != nil || !ok {
		t.Fatalf("expected an empty compat range to always be satisfied, got ok=%v err=%v", ok, err)
	}
}

func TestParseManifestRejectsBadSHA(t *testing.T) {
	m := Manifest{ArchiveFile: "release.tar.gz", ArchiveSHA256: "not-hex", Plugins: []PluginRecord{{ID: "x", Tier: TierCommunity}}, Packs: []PackRecord{}}
	data, _ := json.Marshal(m)
	if _, err := ParseManifest(data); err == nil {
		t.Fatalf("expected error for bad archive_sha256")
	}
}

func TestParseManifestRejectsUnresolvedPackRef(t *testing.T) {
	m := Manifest{
		ArchiveFile:   "release.tar.gz",
		ArchiveSHA256: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Plugins:       []PluginRecord{{ID: "lint-basic", Tier: TierCommunity}},
		Packs:         []PackRecord{{ID: "starter", Plugins: []string{"does-not-exist"}}},
	}
	data, _ := json.Marshal(m)
	if _, err := ParseManifest(data); err == nil {
		t.Fatalf("expected error for unresolved pack ref")
	}
}

func TestParseManifestRejectsUnknownFields(t *testing.T) {
	data := []byte(`{"version":"1","archive_file":"x","archive_sha256":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa","plugins":[],"packs":[],"unexpected_field":true}`)
	if _, err := ParseManifest(data); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestKeyringVerifiesECDSASignature(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	spki, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal SPKI failed: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: spki})

	kr, err := NewKeyring(pemBytes)
	if err != nil {
		t.Fatalf("NewKeyring failed: %v", err)
	}

	manifest := validManifestJSON()
	sum := sha256.Sum256(manifest)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, sum[:])
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	keyID, err := kr.VerifyManifestSignature(manifest, sig)
	if err != nil {
		t.Fatalf("expected signature to verify: %v", err)
	}
	if keyID == "" {
		t.Fatalf("expected non-empty key id")
	}
}

func TestKeyringRejectsWrongSignature(t *testing.T) {
	priv, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	spki, _ := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: spki})
	kr, _ := NewKeyring(pemBytes)

	if _, err := kr.VerifyManifestSignature(validManifestJSON(), []byte("not-a-signature")); err == nil {
		t.Fatalf("expected verification failure for garbage signature")
	}
}
