package main

import (
	"path/filepath"
	"testing"
)

func TestKeySourcesFlags(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("FORENSICS_CREDENTIALS", "")
	t.Setenv("FORENSICS_GPG_PASSPHRASE_FILE", "")

	credentialsFlag, passphraseFlag = "", ""
	keys := keySources()
	if want := filepath.Join(home, ".blackbee-forensics", "credentials.gpg"); keys.CredentialsFile != want {
		t.Errorf("default CredentialsFile = %q, want %q", keys.CredentialsFile, want)
	}

	credentialsFlag, passphraseFlag = "/srv/key.gpg", "/srv/pass"
	t.Cleanup(func() { credentialsFlag, passphraseFlag = "", "" })
	keys = keySources()
	if keys.CredentialsFile != "/srv/key.gpg" || keys.PassphraseFile != "/srv/pass" {
		t.Errorf("flags not applied: %+v", keys)
	}
}
