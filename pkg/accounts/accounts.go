// Package accounts reads the ordered list of signing keys and records per-account outcomes.
package accounts

import (
	"bufio"
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

var ErrInvalidKey = errors.New("accounts: invalid private key")

// Account is one line of the keys file. PrivateKey is nil when the line failed to parse.
type Account struct {
	Line       string
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
	Err        error
}

// ParseAccount parses a hex private key with or without the 0x prefix.
// Errors never include key material.
func ParseAccount(line string) (Account, error) {
	line = strings.TrimSpace(line)
	hexKey := strings.TrimPrefix(strings.TrimPrefix(line, "0x"), "0X")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return Account{Line: line}, fmt.Errorf("%w: expected 32 byte hex key", ErrInvalidKey)
	}
	return Account{Line: line, Address: addressOf(key), PrivateKey: key}, nil
}

func addressOf(key *ecdsa.PrivateKey) common.Address {
	pubKeyBytes := crypto.FromECDSAPub(&key.PublicKey)
	hash := sha3.NewLegacyKeccak256()
	hash.Write(pubKeyBytes[1:])
	return common.BytesToAddress(hash.Sum(nil)[12:])
}

// ExpandHome resolves a leading "~/" against the user's home directory.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home dir: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// Source yields accounts in file order.
type Source struct {
	accounts []Account
	next     int
}

func NewSource(accounts []Account) *Source {
	return &Source{accounts: accounts}
}

// Next returns the next account, or false when the source is exhausted.
func (s *Source) Next() (Account, bool) {
	if s.next >= len(s.accounts) {
		return Account{}, false
	}
	a := s.accounts[s.next]
	s.next++
	return a, true
}

func (s *Source) Len() int { return len(s.accounts) }

// Load reads one key per line, skipping blank lines. Lines that do not parse are kept with Err set
// so the caller can record them as uncompleted. With shuffle set, the order is randomized once and
// the file is rewritten in the new order.
func Load(path string, shuffle bool, rnd *rand.Rand) (*Source, error) {
	path, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	if shuffle {
		if rnd == nil {
			rnd = rand.New(rand.NewSource(rand.Int63()))
		}
		rnd.Shuffle(len(lines), func(i, j int) { lines[i], lines[j] = lines[j], lines[i] })
		if err := writeLines(path, lines); err != nil {
			return nil, err
		}
	}

	accounts := make([]Account, 0, len(lines))
	for _, line := range lines {
		acct, err := ParseAccount(line)
		if err != nil {
			acct.Err = err
		}
		accounts = append(accounts, acct)
	}
	return NewSource(accounts), nil
}

func readLines(path string) ([]string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keys file at %s: %w", path, err)
	}
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(buf))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys file at %s: %w", path, err)
	}
	return lines, nil
}

func writeLines(path string, lines []string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	data := strings.Join(lines, "\n")
	if len(lines) > 0 {
		data += "\n"
	}
	if err := os.WriteFile(tmp, []byte(data), info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write shuffled keys: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace keys file: %w", err)
	}
	return nil
}
