package repo

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
)

// clearsignRelease wraps the Release text in a cleartext signature so apt
// clients can verify it as InRelease. keyPath names an armored private key;
// the first signing-capable entity in the file is used.
func clearsignRelease(release, keyPath string) ([]byte, error) {
	f, err := os.Open(keyPath)
	if err != nil {
		return nil, fmt.Errorf("opening signing key: %w", err)
	}
	defer f.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("reading signing key %s: %w", keyPath, err)
	}

	var signer *openpgp.Entity
	for _, entity := range keyring {
		if entity.PrivateKey != nil {
			signer = entity
			break
		}
	}
	if signer == nil {
		return nil, fmt.Errorf("no private key found in %s", keyPath)
	}
	if signer.PrivateKey.Encrypted {
		return nil, fmt.Errorf("signing key %s is passphrase protected", keyPath)
	}

	var buf bytes.Buffer
	w, err := clearsign.Encode(&buf, signer.PrivateKey, nil)
	if err != nil {
		return nil, fmt.Errorf("starting clearsign: %w", err)
	}
	if _, err := w.Write([]byte(release)); err != nil {
		return nil, fmt.Errorf("signing Release: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing signature: %w", err)
	}
	return buf.Bytes(), nil
}
