package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// fakeGPG records the gpg arguments and returns a fixed plaintext.
type fakeGPG struct {
	out  string
	err  error
	args []string
}

func (f *fakeGPG) decrypt(_ context.Context, args ...string) ([]byte, error) {
	f.args = args
	return []byte(f.out), f.err
}

func writeFile(t *testing.T, name string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("ciphertext"), mode); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolvePrefersEnv(t *testing.T) {
	t.Setenv("FORENSICS_TEST_KEY", "  env-key  ")
	gpg := &fakeGPG{out: "gpg-key"}
	ks := KeySources{EnvVar: "FORENSICS_TEST_KEY", CredentialsFile: writeFile(t, "c.gpg", 0o600), Decrypt: gpg.decrypt}

	key, src, err := ks.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if key != "env-key" || src != SourceEnv {
		t.Errorf("Resolve = %q from %s, want env-key from env", key, src)
	}
	if gpg.args != nil {
		t.Error("gpg should not run when the env var is set")
	}
}

func TestResolveFromGPG(t *testing.T) {
	t.Setenv("FORENSICS_TEST_KEY", "")
	creds := writeFile(t, "c.gpg", 0o600)
	pass := writeFile(t, "pass", 0o600)
	gpg := &fakeGPG{out: "gpg-key\n"}
	ks := KeySources{EnvVar: "FORENSICS_TEST_KEY", CredentialsFile: creds, PassphraseFile: pass, Decrypt: gpg.decrypt}

	key, src, err := ks.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if key != "gpg-key" || src != SourceGPG {
		t.Errorf("Resolve = %q from %s, want gpg-key from gpg", key, src)
	}
	if gpg.args[len(gpg.args)-1] != creds {
		t.Errorf("credentials file should be the last gpg argument: %v", gpg.args)
	}
	if !slices.Contains(gpg.args, "--passphrase-file") || !slices.Contains(gpg.args, pass) {
		t.Errorf("passphrase file not passed to gpg: %v", gpg.args)
	}
}

func TestResolveNoSource(t *testing.T) {
	t.Setenv("FORENSICS_TEST_KEY", "")

	tests := []struct {
		name string
		ks   KeySources
	}{
		{"missing credentials file", KeySources{CredentialsFile: filepath.Join(t.TempDir(), "none.gpg")}},
		{"no credentials file configured", KeySources{}},
		{"passphrase file readable by others", KeySources{
			CredentialsFile: writeFile(t, "c.gpg", 0o600),
			PassphraseFile:  writeFile(t, "pass", 0o644),
			Decrypt:         (&fakeGPG{out: "k"}).decrypt,
		}},
		{"gpg failure", KeySources{
			CredentialsFile: writeFile(t, "c.gpg", 0o600),
			Decrypt:         (&fakeGPG{err: errors.New("bad passphrase")}).decrypt,
		}},
		{"empty plaintext", KeySources{
			CredentialsFile: writeFile(t, "c.gpg", 0o600),
			Decrypt:         (&fakeGPG{out: "  \n"}).decrypt,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.ks.EnvVar = "FORENSICS_TEST_KEY"
			_, _, err := tt.ks.Resolve(context.Background())

			var valErr *ValidationError
			if !errors.As(err, &valErr) || valErr.Type != ErrTypeNoKey {
				t.Fatalf("expected ErrTypeNoKey validation error, got %v", err)
			}
			if !strings.Contains(valErr.Message, "FORENSICS_TEST_KEY") {
				t.Errorf("message should name the env var: %q", valErr.Message)
			}
		})
	}
}

func TestDefaultKeySources(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("FORENSICS_CREDENTIALS", "")
	t.Setenv("FORENSICS_GPG_PASSPHRASE_FILE", "")

	ks := DefaultKeySources()
	if ks.EnvVar != DefaultEnvVar {
		t.Errorf("EnvVar = %q", ks.EnvVar)
	}
	if want := filepath.Join(home, ".blackbee-forensics", "credentials.gpg"); ks.CredentialsFile != want {
		t.Errorf("CredentialsFile = %q, want %q", ks.CredentialsFile, want)
	}

	t.Setenv("FORENSICS_CREDENTIALS", "/etc/forensics/key.gpg")
	t.Setenv("FORENSICS_GPG_PASSPHRASE_FILE", "/etc/forensics/pass")
	ks = DefaultKeySources()
	if ks.CredentialsFile != "/etc/forensics/key.gpg" || ks.PassphraseFile != "/etc/forensics/pass" {
		t.Errorf("env overrides ignored: %+v", ks)
	}
}
