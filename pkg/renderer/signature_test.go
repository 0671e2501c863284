package renderer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/mattryanharris/where-is-matt/pkg/errors"
)

func newSigner(t *testing.T) *openpgp.Entity {
	t.Helper()
	e, err := openpgp.NewEntity("Release Signer", "", "releases@example.com", &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return e
}

func armoredSignature(t *testing.T, signer *openpgp.Entity, data []byte) []byte {
	t.Helper()
	var sig bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&sig, signer, bytes.NewReader(data), nil); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig.Bytes()
}

func TestLoadKeyring(t *testing.T) {
	signer := newSigner(t)

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := signer.Serialize(w); err != nil {
		t.Fatal(err)
	}
	w.Close()

	p := filepath.Join(t.TempDir(), "release.asc")
	os.WriteFile(p, buf.Bytes(), 0644)

	keyring, err := LoadKeyring(p)
	if err != nil {
		t.Fatalf("LoadKeyring failed: %v", err)
	}
	if len(keyring) != 1 {
		t.Errorf("keyring has %d entities, want 1", len(keyring))
	}

	if _, err := LoadKeyring(filepath.Join(t.TempDir(), "missing.asc")); !errors.Is(err, errors.KindConfiguration) {
		t.Errorf("missing keyring: err = %v, want configuration error", err)
	}
}

func TestLoadKeyring_InvalidIsConfigurationError(t *testing.T) {
	dir := t.TempDir()
	for name, data := range map[string][]byte{
		"empty.asc":   nil,
		"garbage.asc": []byte("not a keyring at all"),
	} {
		p := filepath.Join(dir, name)
		os.WriteFile(p, data, 0644)

		keyring, err := LoadKeyring(p)
		if err == nil {
			t.Errorf("%s: got %d entities, want error", name, len(keyring))
			continue
		}
		if !errors.Is(err, errors.KindConfiguration) {
			t.Errorf("%s: kind = %s, want configuration", name, errors.KindOf(err))
		}
	}
}

func TestEnsure_RequiresValidSignature(t *testing.T) {
	signer := newSigner(t)
	good := tarGz(t, map[string]string{"pixlet": fakeBinary("signed")})
	tampered := tarGz(t, map[string]string{"pixlet": fakeBinary("tampered")})

	srv := newReleaseServer(t, map[string][]byte{
		"/tampered.tar.gz":     tampered,
		"/tampered.tar.gz.asc": armoredSignature(t, signer, good),
		"/unsigned.tar.gz":     good,
		"/good.tar.gz":         good,
		"/good.tar.gz.asc":     armoredSignature(t, signer, good),
	})

	m, _, _ := newTestManager(t, []Source{
		{URL: srv.URL + "/tampered.tar.gz", SignatureURL: srv.URL + "/tampered.tar.gz.asc"},
		{URL: srv.URL + "/unsigned.tar.gz"},
		{URL: srv.URL + "/good.tar.gz", SignatureURL: srv.URL + "/good.tar.gz.asc"},
	})
	m.keyring = openpgp.EntityList{signer}

	path, err := m.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	got, _ := os.ReadFile(path)
	if !strings.Contains(string(got), "signed") {
		t.Errorf("cached binary = %q", got)
	}
}

func TestVerifySignature_Rejects(t *testing.T) {
	signer := newSigner(t)
	other := newSigner(t)
	dir := t.TempDir()

	data := filepath.Join(dir, "archive.tar.gz")
	os.WriteFile(data, []byte("archive bytes"), 0644)
	sig := filepath.Join(dir, "archive.tar.gz.asc")
	os.WriteFile(sig, armoredSignature(t, other, []byte("archive bytes")), 0644)

	err := verifySignature(openpgp.EntityList{signer}, data, sig)
	if errors.KindOf(err) != errors.KindVerification {
		t.Errorf("kind = %s, err = %v", errors.KindOf(err), err)
	}
}
