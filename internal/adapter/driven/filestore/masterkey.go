package filestore

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"golang.org/x/crypto/scrypt"
)

// MasterKeySource records where the vault's master key came from.
type MasterKeySource string

const (
	MasterKeyFromConfig     MasterKeySource = "config"
	MasterKeyFromPassphrase MasterKeySource = "passphrase"
	MasterKeyFromFile       MasterKeySource = "file"
	MasterKeyGenerated      MasterKeySource = "generated"
)

// scrypt cost parameters for passphrase derivation. The salt is fixed so the
// same passphrase always yields the same key across restarts.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var passphraseSalt = []byte("repobridge/secret-vault/v1")

// MasterKeyOptions are the inputs to ResolveMasterKey. Key, when set, must
// already be decoded to MasterKeySize bytes.
type MasterKeyOptions struct {
	Key        []byte
	Passphrase string
	DataDir    string
}

// ResolveMasterKey picks the vault master key, in order of preference:
//  1. an explicit key from configuration;
//  2. a key derived from a passphrase with scrypt;
//  3. the key persisted in <data dir>/master.key, generated on first run.
//
// A generated key file is the only copy of the key. Losing it makes every
// stored secret permanently unreadable.
func ResolveMasterKey(opts MasterKeyOptions, logger *slog.Logger) ([]byte, MasterKeySource, error) {
	if len(opts.Key) > 0 {
		if len(opts.Key) != MasterKeySize {
			return nil, "", ErrInvalidMasterKey
		}
		return append([]byte(nil), opts.Key...), MasterKeyFromConfig, nil
	}

	if opts.Passphrase != "" {
		key, err := DeriveKeyFromPassphrase(opts.Passphrase)
		if err != nil {
			return nil, "", err
		}
		return key, MasterKeyFromPassphrase, nil
	}

	path := filepath.Join(opts.DataDir, masterKeyFile)
	key, err := readKeyFile(path, logger)
	if err == nil {
		return key, MasterKeyFromFile, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, "", err
	}

	key, err = generateKeyFile(path, rand.Reader)
	if err != nil {
		return nil, "", err
	}
	logger.Warn("generated new secret vault master key; back it up, losing it makes all stored secrets unrecoverable",
		"path", path,
	)
	return key, MasterKeyGenerated, nil
}

// DeriveKeyFromPassphrase stretches a passphrase into a 256-bit key.
func DeriveKeyFromPassphrase(passphrase string) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), passphraseSalt, scryptN, scryptR, scryptP, MasterKeySize)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	return key, nil
}

func readKeyFile(path string, logger *slog.Logger) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode().Perm()&0o077 != 0 {
		logger.Warn("master key file is readable by other users", "path", path, "mode", info.Mode().Perm().String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read master key: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("master key file %s is not hex: %w", path, err)
	}
	if len(key) != MasterKeySize {
		return nil, fmt.Errorf("master key file %s: %w", path, ErrInvalidMasterKey)
	}
	return key, nil
}

func generateKeyFile(path string, random io.Reader) ([]byte, error) {
	key := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(random, key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), secretDirPerm); err != nil {
		return nil, fmt.Errorf("create directory for master key: %w", err)
	}
	encoded := []byte(hex.EncodeToString(key) + "\n")
	if err := atomic.WriteFile(path, bytes.NewReader(encoded)); err != nil {
		return nil, fmt.Errorf("write master key: %w", err)
	}
	if err := os.Chmod(path, secretPerm); err != nil {
		return nil, fmt.Errorf("restrict permissions on master key: %w", err)
	}
	return key, nil
}
