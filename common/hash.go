package common

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"

	"github.com/pkg/errors"
)

var ErrChecksumMismatch = errors.New("the checksum of the data, as we received it, did not match the expected value. " +
	"This means there is a data integrity error; the source file has been preserved")

func hashFile(path string, h hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "hashing %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MD5File returns the hex MD5 of a file's contents. Used for transfer
// integrity checks, where collision resistance is not a requirement.
func MD5File(path string) (string, error) {
	return hashFile(path, md5.New())
}

// SHA256File returns the hex SHA-256 of a file's contents. Used for the
// published archive catalog.
func SHA256File(path string) (string, error) {
	return hashFile(path, sha256.New())
}
