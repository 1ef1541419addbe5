// Package pluginmanager implements Compas's native plugin lifecycle:
// fetching and verifying a signed registry manifest, downloading and
// sha256-verifying a plugin archive, safely extracting it, and
// applying an atomic install/update/uninstall/doctor lifecycle backed
// by a lockfile.
//
// Trust is rooted in a single embedded-keyring ECDSA-P-256 signature
// rather than an online transparency log: manifest verification checks
// the signature against the embedded keyring, and installs use
// sorted-walk content hashing with a staged tmp+rename.
package pluginmanager

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// manifestSchemaSrc is registry.manifest.v1.json's structural schema:
// the one JSON artifact this otherwise-TOML-configured repo accepts,
// validated before the strict struct decode runs.
const manifestSchemaSrc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["archive_file", "archive_sha256", "plugins"],
  "properties": {
    "version": {"type": "string"},
    "archive_file": {"type": "string", "minLength": 1},
    "archive_sha256": {"type": "string"},
    "plugins": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "tier"],
        "properties": {
          "id": {"type": "string"},
          "path_in_archive": {"type": "string"},
          "tier": {"type": "string"},
          "maintainers": {"type": "array", "items": {"type": "string"}},
          "tags": {"type": "array", "items": {"type": "string"}},
          "compat": {"type": "string"}
        }
      }
    },
    "packs": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "plugins"],
        "properties": {
          "id": {"type": "string"},
          "plugins": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

var manifestSchema = compileManifestSchema()

func compileManifestSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const resourceURL = "compas://registry.manifest.v1.json"
	if err := c.AddResource(resourceURL, strings.NewReader(manifestSchemaSrc)); err != nil {
		panic(fmt.Sprintf("pluginmanager: invalid embedded manifest schema: %v", err))
	}
	schema, err := c.Compile(resourceURL)
	if err != nil {
		panic(fmt.Sprintf("pluginmanager: embedded manifest schema does not compile: %v", err))
	}
	return schema
}

// Tier is a plugin's trust/maturity classification.
type Tier string

const (
	TierCommunity    Tier = "community"
	TierCertified    Tier = "certified"
	TierExperimental Tier = "experimental"
	TierDeprecated   Tier = "deprecated"
)

var idRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)
var sha256HexRegex = regexp.MustCompile(`^[a-f0-9]{64}$`)

// PluginRecord is one plugin entry in the registry manifest.
type PluginRecord struct {
	ID           string   `json:"id"`
	PathInArchive string  `json:"path_in_archive"`
	Tier         Tier     `json:"tier"`
	Maintainers  []string `json:"maintainers,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Compat       string   `json:"compat,omitempty"`
}

// PackRecord groups a named pack of plugin ids.
type PackRecord struct {
	ID      string   `json:"id"`
	Plugins []string `json:"plugins"`
}

// Manifest is the registry manifest v1 (registry.manifest.v1.json).
type Manifest struct {
	Version        string         `json:"version"`
	ArchiveFile    string         `json:"archive_file"`
	ArchiveSHA256  string         `json:"archive_sha256"`
	Plugins        []PluginRecord `json:"plugins"`
	Packs          []PackRecord   `json:"packs"`
}

// ApiError mirrors pkg/config's typed, coded setup-failure pattern for
// plugin-manager operations.
type ApiError struct {
	Code    string
	Message string
}

func (e *ApiError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

const (
	ErrManifestInvalid   = "pack.manifest_invalid"
	ErrManifestUnsigned  = "pack.signature_invalid"
	ErrDuplicateID       = "pack.duplicate_id"
	ErrUnresolvedPackRef = "pack.unresolved_pack_ref"
	ErrTierDenied        = "pack.tier_denied"
)

// ParseManifest decodes and validates a registry manifest's structural
// invariants: id regex, unique ids, pack refs resolve, archive sha256
// is 64-hex. Unknown JSON fields are rejected via a strict decoder.
func ParseManifest(data []byte) (*Manifest, error) {
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, &ApiError{Code: ErrManifestInvalid, Message: err.Error()}
	}
	if err := manifestSchema.Validate(generic); err != nil {
		return nil, &ApiError{Code: ErrManifestInvalid, Message: "schema validation: " + err.Error()}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, &ApiError{Code: ErrManifestInvalid, Message: err.Error()}
	}

	if !sha256HexRegex.MatchString(m.ArchiveSHA256) {
		return nil, &ApiError{Code: ErrManifestInvalid, Message: "archive_sha256 must be 64 lowercase hex characters"}
	}

	seen := make(map[string]bool, len(m.Plugins))
	for _, p := range m.Plugins {
		if !idRegex.MatchString(p.ID) {
			return nil, &ApiError{Code: ErrManifestInvalid, Message: "invalid plugin id: " + p.ID}
		}
		if seen[p.ID] {
			return nil, &ApiError{Code: ErrDuplicateID, Message: "duplicate plugin id: " + p.ID}
		}
		seen[p.ID] = true
		switch p.Tier {
		case TierCommunity, TierCertified, TierExperimental, TierDeprecated:
		default:
			return nil, &ApiError{Code: ErrManifestInvalid, Message: "unknown tier for plugin " + p.ID}
		}
		if p.Compat != "" {
			if _, err := semver.NewConstraint(p.Compat); err != nil {
				return nil, &ApiError{Code: ErrManifestInvalid, Message: fmt.Sprintf("plugin %s: invalid compat range %q: %v", p.ID, p.Compat, err)}
			}
		}
	}

	packSeen := make(map[string]bool, len(m.Packs))
	for _, pk := range m.Packs {
		if packSeen[pk.ID] {
			return nil, &ApiError{Code: ErrDuplicateID, Message: "duplicate pack id: " + pk.ID}
		}
		packSeen[pk.ID] = true
		for _, ref := range pk.Plugins {
			if !seen[ref] {
				return nil, &ApiError{Code: ErrUnresolvedPackRef, Message: "pack " + pk.ID + " references unknown plugin " + ref}
			}
		}
	}

	return &m, nil
}

// CheckCompat reports whether compasVersion satisfies a plugin's
// compat range (e.g. ">= 1.0.0, < 2.0.0"). An empty compat range is
// unconstrained and always satisfied.
func CheckCompat(compat, compasVersion string) (bool, error) {
	if compat == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(compat)
	if err != nil {
		return false, fmt.Errorf("pluginmanager: invalid compat range %q: %w", compat, err)
	}
	v, err := semver.NewVersion(compasVersion)
	if err != nil {
		return false, fmt.Errorf("pluginmanager: invalid version %q: %w", compasVersion, err)
	}
	return c.Check(v), nil
}

// Keyring holds the embedded SPKI PEM trust-root public keys the
// manifest signature is checked against.
type Keyring struct {
	keys map[string]any // key_id (sha256 of SPKI DER, hex) -> public key
}

// NewKeyring parses one or more PEM-encoded SPKI public keys.
func NewKeyring(pemBlocks ...[]byte) (*Keyring, error) {
	kr := &Keyring{keys: make(map[string]any)}
	for _, block := range pemBlocks {
		p, _ := pem.Decode(block)
		if p == nil {
			return nil, errors.New("pluginmanager: invalid PEM block in keyring")
		}
		pub, err := x509.ParsePKIXPublicKey(p.Bytes)
		if err != nil {
			return nil, fmt.Errorf("pluginmanager: parse SPKI key: %w", err)
		}
		sum := sha256.Sum256(p.Bytes)
		keyID := fmt.Sprintf("%x", sum)
		kr.keys[keyID] = pub
	}
	return kr, nil
}

// VerifyManifestSignature checks signature against every key in the
// ring, returning the matching key's id: an ECDSA-P-256 key verifies it
// over SHA-256(manifestBytes), an Ed25519 key over manifestBytes itself.
func (kr *Keyring) VerifyManifestSignature(manifestBytes, signature []byte) (keyID string, err error) {
	sum := sha256.Sum256(manifestBytes)
	for id, pub := range kr.keys {
		switch key := pub.(type) {
		case *ecdsa.PublicKey:
			if ecdsa.VerifyASN1(key, sum[:], signature) {
				return id, nil
			}
		case ed25519.PublicKey:
			if ed25519.Verify(key, manifestBytes, signature) {
				return id, nil
			}
		}
	}
	return "", &ApiError{Code: ErrManifestUnsigned, Message: "no embedded trust-root key validated this manifest's signature"}
}
