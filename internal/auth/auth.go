package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Key source defaults. Both paths can be overridden per process through
// FORENSICS_CREDENTIALS and FORENSICS_GPG_PASSPHRASE_FILE or the CLI flags.
const (
	DefaultEnvVar      = "GEMINI_API_KEY"
	credentialDir      = ".blackbee-forensics"
	credentialFile     = "credentials.gpg"
	credentialsEnv     = "FORENSICS_CREDENTIALS"
	passphraseFileEnv  = "FORENSICS_GPG_PASSPHRASE_FILE"
	passphraseFileMode = 0o077
)

// Source tells where a key was found.
type Source string

const (
	SourceEnv Source = "env"
	SourceGPG Source = "gpg"
)

// DecryptFunc runs gpg with args and returns its stdout.
type DecryptFunc func(ctx context.Context, args ...string) ([]byte, error)

// KeySources lists where the forensics binaries look for the Gemini key:
// first the environment variable, then a GPG-encrypted credentials file.
type KeySources struct {
	// EnvVar is checked first. Defaults to GEMINI_API_KEY.
	EnvVar string
	// CredentialsFile is a GPG-encrypted file holding only the key.
	CredentialsFile string
	// PassphraseFile enables non-interactive decryption. It must not be
	// readable by group or others.
	PassphraseFile string
	// Decrypt defaults to running the gpg binary.
	Decrypt DecryptFunc
}

// DefaultKeySources returns the sources used when no flags are given:
// GEMINI_API_KEY and ~/.blackbee-forensics/credentials.gpg.
func DefaultKeySources() KeySources {
	ks := KeySources{
		EnvVar:          DefaultEnvVar,
		CredentialsFile: os.Getenv(credentialsEnv),
		PassphraseFile:  os.Getenv(passphraseFileEnv),
	}
	if ks.CredentialsFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			ks.CredentialsFile = filepath.Join(home, credentialDir, credentialFile)
		}
	}
	return ks
}

// Resolve returns the API key and where it came from. When no source
// yields a key the error is a *ValidationError of type ErrTypeNoKey.
func (ks KeySources) Resolve(ctx context.Context) (string, Source, error) {
	envVar := ks.EnvVar
	if envVar == "" {
		envVar = DefaultEnvVar
	}
	if key := strings.TrimSpace(os.Getenv(envVar)); key != "" {
		log.Debug().Str("env_var", envVar).Msg("Using API key from environment")
		return key, SourceEnv, nil
	}

	key, err := ks.fromGPG(ctx)
	if err == nil {
		log.Debug().Str("file", ks.CredentialsFile).Msg("Using API key from GPG credentials")
		return key, SourceGPG, nil
	}

	log.Debug().Err(err).Msg("No API key in environment or GPG credentials")
	return "", "", &ValidationError{
		Type:    ErrTypeNoKey,
		Message: fmt.Sprintf("API key not found. Set %s or store it GPG-encrypted in %s", envVar, ks.displayPath()),
		Err:     err,
	}
}

func (ks KeySources) displayPath() string {
	if ks.CredentialsFile == "" {
		return "~/" + credentialDir + "/" + credentialFile
	}
	return ks.CredentialsFile
}

// fromGPG decrypts CredentialsFile.
func (ks KeySources) fromGPG(ctx context.Context) (string, error) {
	if ks.CredentialsFile == "" {
		return "", errors.New("no credentials file configured")
	}
	if _, err := os.Stat(ks.CredentialsFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("credentials file not found at %s", ks.CredentialsFile)
		}
		return "", fmt.Errorf("credentials file: %w", err)
	}

	passArgs, err := ks.passphraseArgs()
	if err != nil {
		return "", err
	}
	args := append([]string{"--decrypt", "--quiet", "--batch"}, passArgs...)
	args = append(args, ks.CredentialsFile)

	decrypt := ks.Decrypt
	if decrypt == nil {
		decrypt = runGPG
	}
	out, err := decrypt(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}

	key := strings.TrimSpace(string(out))
	if key == "" {
		return "", fmt.Errorf("credentials file %s decrypted to an empty key", ks.CredentialsFile)
	}
	return key, nil
}

// passphraseArgs returns the loopback pinentry flags when a passphrase
// file is configured. A file readable by others is refused.
func (ks KeySources) passphraseArgs() ([]string, error) {
	if ks.PassphraseFile == "" {
		return nil, nil
	}
	fi, err := os.Stat(ks.PassphraseFile)
	if err != nil {
		return nil, fmt.Errorf("passphrase file: %w", err)
	}
	if mode := fi.Mode().Perm(); mode&passphraseFileMode != 0 {
		return nil, fmt.Errorf("passphrase file %s has permissions %04o, want 0600", ks.PassphraseFile, mode)
	}
	return []string{"--pinentry-mode", "loopback", "--passphrase-file", ks.PassphraseFile}, nil
}

func runGPG(ctx context.Context, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	return out, nil
}
