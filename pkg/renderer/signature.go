package renderer

import (
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/mattryanharris/where-is-matt/pkg/errors"
)

// LoadKeyring reads an armored or binary OpenPGP public keyring. Every
// failure, including an empty keyring, is a configuration error.
func LoadKeyring(path string) (openpgp.EntityList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithKind(errors.KindConfiguration, err, "open keyring")
	}
	defer f.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			return nil, errors.WithKind(errors.KindConfiguration, serr, "rewind keyring")
		}
		keyring, err = openpgp.ReadKeyRing(f)
		if err != nil {
			return nil, errors.WithKind(errors.KindConfiguration, err, "read keyring")
		}
	}
	if len(keyring) == 0 {
		return nil, errors.Newf(errors.KindConfiguration, "keyring %s is empty", path)
	}
	return keyring, nil
}

// verifySignature checks a detached signature (armored or binary) over the
// file at signedPath.
func verifySignature(keyring openpgp.EntityList, signedPath, signaturePath string) error {
	signed, err := os.Open(signedPath)
	if err != nil {
		return errors.WithKind(errors.KindVerification, err, "open signed file")
	}
	defer signed.Close()

	sig, err := os.Open(signaturePath)
	if err != nil {
		return errors.WithKind(errors.KindVerification, err, "open signature")
	}
	defer sig.Close()

	_, err = openpgp.CheckArmoredDetachedSignature(keyring, signed, sig, nil)
	if err != nil {
		if _, serr := signed.Seek(0, io.SeekStart); serr != nil {
			return errors.WithKind(errors.KindVerification, serr, "rewind signed file")
		}
		if _, serr := sig.Seek(0, io.SeekStart); serr != nil {
			return errors.WithKind(errors.KindVerification, serr, "rewind signature")
		}
		_, err = openpgp.CheckDetachedSignature(keyring, signed, sig, nil)
	}
	if err != nil {
		return errors.WithKind(errors.KindVerification, err, "signature check failed")
	}
	return nil
}
