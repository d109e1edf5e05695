package util

import (
	"crypto/md5"
	"encoding/hex"
)

// MD5 hex md5 digest of str
func MD5(str string) string {
	sum := md5.Sum([]byte(str))
	return hex.EncodeToString(sum[:])
}

// JsonMD5 hex md5 digest of the json encoding of v, equal values give equal digests
func JsonMD5(v interface{}) (string, error) {
	str, err := JsonString(v)
	if err != nil {
		return "", err
	}
	return MD5(str), nil
}
