// Package identity implements C1: the node's self-sovereign DID and the
// sign/verify primitives every other component authenticates artifacts
// with. The keypair is Ed25519 (crypto/ed25519), and since the DID embeds
// the hex-encoded public key, Verify never needs to consult the DHT: the
// identifier is self-certifying. The keypair and mnemonic are encrypted at
// rest with PBKDF2-derived AES-256-GCM, the same keystore scheme the
// teacher's wallet CLI uses for its seed file.
package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tyler-smith/go-bip39"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"

	"duxnet.io/node/pkg/errs"
)

const method = "duxnet"

// passphraseEnvVar names the environment variable a node operator can set
// to encrypt the identity keystore at rest. Left unset, the keystore is
// still encrypted (PBKDF2 accepts an empty password) so the on-disk format
// is uniform either way.
const passphraseEnvVar = "DUXNET_IDENTITY_PASSPHRASE"

// keyFile is the on-disk persistence format for the node's keypair: a
// PBKDF2/AES-256-GCM keystore wrapping the JSON-encoded plaintext payload,
// mirroring the teacher's wallet CLI keystore layout.
type keyFile struct {
	Salt   string `json:"salt"`
	Nonce  string `json:"nonce"`
	Cipher string `json:"cipher"`
}

// keyPayload is the plaintext sealed inside keyFile.Cipher.
type keyPayload struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
	Mnemonic   string `json:"mnemonic"`
	CreatedAt  int64  `json:"created_at"`
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, 150_000, 32, sha256.New)
}

func sealPayload(p keyPayload, passphrase string) (*keyFile, error) {
	plain, err := json.Marshal(p)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "marshal identity payload", err)
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, errs.Wrap(errs.External, "generate keystore salt", err)
	}
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, errs.Wrap(errs.External, "init keystore cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.External, "init keystore gcm", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errs.Wrap(errs.External, "generate keystore nonce", err)
	}
	sealed := gcm.Seal(nil, nonce, plain, nil)
	return &keyFile{
		Salt:   hex.EncodeToString(salt),
		Nonce:  hex.EncodeToString(nonce),
		Cipher: hex.EncodeToString(sealed),
	}, nil
}

func openPayload(kf *keyFile, passphrase string) (*keyPayload, error) {
	salt, err := hex.DecodeString(kf.Salt)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "decode keystore salt", err)
	}
	nonce, err := hex.DecodeString(kf.Nonce)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "decode keystore nonce", err)
	}
	sealed, err := hex.DecodeString(kf.Cipher)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "decode keystore cipher", err)
	}
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, errs.Wrap(errs.External, "init keystore cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.External, "init keystore gcm", err)
	}
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Auth, "decrypt identity keystore (wrong passphrase?)", err)
	}
	var p keyPayload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, errs.Wrap(errs.Serialization, "unmarshal identity payload", err)
	}
	return &p, nil
}

// Service owns the node's keypair and DID, and authenticates artifacts for
// every other component. It is created once per node and handed out as a
// thin reference owned and constructed once by the node's wiring root.
type Service struct {
	mu      sync.RWMutex
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
	did     DID
	created time.Time
	log     *log.Entry
}

// Load reads the node's keypair from dataDir/identity.json, generating and
// persisting a new Ed25519 keypair (plus a BIP-39 mnemonic for operator
// backup) on first boot.
func Load(dataDir string, logger *log.Logger) (*Service, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	entry := logger.WithField("component", "identity")

	passphrase := os.Getenv(passphraseEnvVar)

	path := filepath.Join(dataDir, "identity.json")
	if raw, err := os.ReadFile(path); err == nil {
		var kf keyFile
		if err := json.Unmarshal(raw, &kf); err != nil {
			return nil, errs.Wrap(errs.Serialization, "parse identity file", err)
		}
		payload, err := openPayload(&kf, passphrase)
		if err != nil {
			return nil, err
		}
		pub, err := hex.DecodeString(payload.PublicKey)
		if err != nil {
			return nil, errs.Wrap(errs.Serialization, "decode public key", err)
		}
		priv, err := hex.DecodeString(payload.PrivateKey)
		if err != nil {
			return nil, errs.Wrap(errs.Serialization, "decode private key", err)
		}
		svc := &Service{
			priv:    ed25519.PrivateKey(priv),
			pub:     ed25519.PublicKey(pub),
			did:     didFromPublicKey(pub),
			created: time.Unix(payload.CreatedAt, 0).UTC(),
			log:     entry,
		}
		entry.WithField("did", string(svc.did)).Info("identity loaded")
		return svc, nil
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errs.Wrap(errs.External, "generate keypair", err)
	}
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, errs.Wrap(errs.External, "generate mnemonic entropy", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, errs.Wrap(errs.External, "generate mnemonic", err)
	}

	now := time.Now().UTC()
	svc := &Service{priv: priv, pub: pub, did: didFromPublicKey(pub), created: now, log: entry}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, errs.Wrap(errs.External, "create data dir", err)
	}
	payload := keyPayload{
		PublicKey:  hex.EncodeToString(pub),
		PrivateKey: hex.EncodeToString(priv),
		Mnemonic:   mnemonic,
		CreatedAt:  now.Unix(),
	}
	kf, err := sealPayload(payload, passphrase)
	if err != nil {
		return nil, err
	}
	raw, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "marshal identity file", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, errs.Wrap(errs.External, "persist identity file", err)
	}

	entry.WithField("did", string(svc.did)).Info("generated new node identity")
	return svc, nil
}

func didFromPublicKey(pub ed25519.PublicKey) DID {
	return DID(fmt.Sprintf("did:%s:%s", method, hex.EncodeToString(pub)))
}

// LocalDID returns the node's own DID.
func (s *Service) LocalDID() DID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.did
}

// Record returns the node's own published DID record.
func (s *Service) Record(endpoints []string) Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Record{
		ID:        s.did,
		PublicKey: append([]byte(nil), s.pub...),
		Endpoints: endpoints,
		CreatedAt: s.created.Unix(),
	}
}

// Sign produces a deterministic Ed25519 signature over msg using the node's
// private key.
func (s *Service) Sign(msg []byte) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ed25519.Sign(s.priv, msg)
}

// Verify checks sig over msg against the public key embedded in did. It
// never touches the DHT: a DID is self-certifying, so malformed or
// nonexistent identifiers simply fail to verify.
func Verify(did DID, msg, sig []byte) bool {
	pub, err := PublicKeyOf(did)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// PublicKeyOf decodes the Ed25519 public key embedded in a DID string.
func PublicKeyOf(did DID) (ed25519.PublicKey, error) {
	s := string(did)
	prefix := "did:" + method + ":"
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return nil, errs.New(errs.Serialization, "malformed did")
	}
	raw, err := hex.DecodeString(s[len(prefix):])
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "decode did public key", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errs.New(errs.Serialization, "unexpected public key length")
	}
	return ed25519.PublicKey(raw), nil
}
