package file

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/pkg/errors"
)

//checksum kinds of an input file
const (
	OKFlag = "OK"
	MD5    = "MD5"
	SHA1   = "SHA1"
	SHA256 = "SHA256"
)

//ErrChecksumMismatch the input file is incomplete or its digest does not match its check file
var ErrChecksumMismatch = errors.New("checksum mismatch")

//VerifyChecksum check the input file against its marker or check file according to fd.Checksum.
//OK expects an empty "<file>.ok" marker, digests expect a "<file>.<alg>" file holding the hex digest.
//Check files may also replace the extension of the data file.
func VerifyChecksum(fd FileDescriptor) error {
	switch strings.ToUpper(fd.Checksum) {
	case "":
		return nil
	case OKFlag:
		_, ok, err := findCheckFile(fd, "ok")
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(ErrChecksumMismatch, "no ok flag for %v", fd)
		}
		return nil
	case MD5:
		return verifyDigest(fd, "md5", md5.New())
	case SHA1:
		return verifyDigest(fd, "sha1", sha1.New())
	case SHA256:
		return verifyDigest(fd, "sha256", sha256.New())
	}
	return errors.Errorf("unsupported checksum:%v", fd.Checksum)
}

func findCheckFile(fd FileDescriptor, suffix string) (string, bool, error) {
	candidates := []string{fd.FileName + "." + suffix, fd.FileName + "." + strings.ToUpper(suffix)}
	if dotIdx := strings.LastIndex(fd.FileName, "."); dotIdx > 0 {
		base := fd.FileName[0:dotIdx]
		candidates = append(candidates, base+"."+suffix, base+"."+strings.ToUpper(suffix))
	}
	for _, name := range candidates {
		ok, err := fd.FileStore.Exists(name)
		if err != nil {
			return "", false, err
		}
		if ok {
			return name, true, nil
		}
	}
	return "", false, nil
}

func verifyDigest(fd FileDescriptor, alg string, digest hash.Hash) error {
	checkFile, ok, err := findCheckFile(fd, alg)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrChecksumMismatch, "no %v check file for %v", alg, fd)
	}
	checkReader, err := fd.FileStore.Open(checkFile, fd.Encoding)
	if err != nil {
		return err
	}
	defer checkReader.Close()
	buf, err := io.ReadAll(checkReader)
	if err != nil {
		return err
	}
	fields := strings.Fields(string(buf))
	if len(fields) == 0 {
		return errors.Wrapf(ErrChecksumMismatch, "empty check file %v", checkFile)
	}
	reader, err := fd.FileStore.Open(fd.FileName, fd.Encoding)
	if err != nil {
		return err
	}
	defer reader.Close()
	if _, err = io.Copy(digest, reader); err != nil {
		return err
	}
	fileHash := fmt.Sprintf("%x", digest.Sum(nil))
	if !strings.EqualFold(fields[0], fileHash) {
		return errors.Wrapf(ErrChecksumMismatch, "%v digest of %v is %v, expected %v", alg, fd, fileHash, fields[0])
	}
	return nil
}
