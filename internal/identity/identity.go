package identity

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const keyFileName = "device_key.pem"

// SerialStore persists the cloud-assigned serial number across restarts.
type SerialStore interface {
	Serial() string
	SetSerial(serial string) error
}

// Identity holds the device's serial number, node identifier and signing key.
// The serial may be set from the socket handler goroutine while the heartbeat
// goroutine reads it, so access goes through a lock.
type Identity struct {
	store SerialStore
	log   *slog.Logger

	keyPath string
	mac     string

	mu     sync.RWMutex
	serial string
	key    *rsa.PrivateKey
}

// New builds an Identity backed by store, keeping key material under stateDir.
// The persisted serial, if any, is loaded immediately.
func New(store SerialStore, stateDir string, log *slog.Logger) *Identity {
	return &Identity{
		store:   store,
		log:     log,
		keyPath: filepath.Join(stateDir, keyFileName),
		mac:     nodeIdentifier(),
		serial:  store.Serial(),
	}
}

func (id *Identity) Serial() string {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.serial
}

// SetSerial stores the serial in memory and persists it through the store.
func (id *Identity) SetSerial(serial string) error {
	id.mu.Lock()
	id.serial = serial
	id.mu.Unlock()
	return id.store.SetSerial(serial)
}

// MAC returns the MAC-derived node identifier, stable for the process
// lifetime.
func (id *Identity) MAC() string {
	return id.mac
}

// EnsureKeys loads the device key pair from disk, generating and persisting a
// new RSA-2048 pair if none exists yet.
func (id *Identity) EnsureKeys() error {
	id.mu.Lock()
	defer id.mu.Unlock()

	if id.key != nil {
		return nil
	}

	b, err := os.ReadFile(id.keyPath)
	if err == nil {
		key, perr := parsePrivateKey(b)
		if perr != nil {
			return fmt.Errorf("identity: parse %s: %w", id.keyPath, perr)
		}
		id.key = key
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("identity: read key: %w", err)
	}

	id.log.Debug("generating device key pair", "path", id.keyPath)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("identity: generate key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(id.keyPath), 0755); err != nil {
		return fmt.Errorf("identity: create state dir: %w", err)
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := os.WriteFile(id.keyPath, pem.EncodeToMemory(block), 0600); err != nil {
		return fmt.Errorf("identity: write key: %w", err)
	}
	id.key = key
	return nil
}

// Sign produces a SHA-256 PKCS#1v1.5 signature over data with the device
// private key. EnsureKeys must have succeeded first.
func (id *Identity) Sign(data []byte) ([]byte, error) {
	id.mu.RLock()
	key := id.key
	id.mu.RUnlock()
	if key == nil {
		return nil, errors.New("identity: no key material")
	}
	digest := sha256.Sum256(data)
	return rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
}

// PublicKeyPEM returns the device public key as PEM text for registration.
func (id *Identity) PublicKeyPEM() (string, error) {
	id.mu.RLock()
	key := id.key
	id.mu.RUnlock()
	if key == nil {
		return "", errors.New("identity: no key material")
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("identity: marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return key, nil
}

// nodeIdentifier returns the first non-loopback hardware address formatted as
// an uppercase colon-separated MAC. When no usable interface exists it falls
// back to a random per-process identifier, like uuid.getnode.
func nodeIdentifier() string {
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) < 6 {
				continue
			}
			return formatMAC(iface.HardwareAddr[:6])
		}
	}
	u := uuid.New()
	return formatMAC(u[10:16])
}

func formatMAC(b []byte) string {
	parts := make([]string, len(b))
	for i, octet := range b {
		parts[i] = fmt.Sprintf("%02X", octet)
	}
	return strings.Join(parts, ":")
}

// LocalIP returns the address the host would use to reach the public
// internet, for reporting the local UI address to the cloud.
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return ""
}
