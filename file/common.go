package file

import (
	"bufio"
	"fmt"
	"io"
)

const (
	LocalFileStorage = "local"
	FTPFileStorage   = "ftp"
)

//FileDescriptor a delimited text file
type FileDescriptor struct {
	FileStore FileStorage
	//FileName the name or a name pattern with {param,format} placeholders
	FileName string
	Encoding string
	//Header the first record is a header, it names the fields unless Fields is set
	Header bool
	//Fields names of the fields in record order
	Fields         []string
	FieldSeparator rune
	//Comment lines starting with this character are ignored, 0 disables comments
	Comment rune
	//Checksum verified before the file is read: OK, MD5, SHA1, SHA256 or empty for none
	Checksum string
}

func (fd FileDescriptor) String() string {
	return fmt.Sprintf("%v/%s", fd.FileStore, fd.FileName)
}

func (fd FileDescriptor) separator() rune {
	if fd.FieldSeparator == 0 {
		return ','
	}
	return fd.FieldSeparator
}

//Count number of non empty lines of fd excluding the header
func Count(fd FileDescriptor) (int64, error) {
	reader, err := fd.FileStore.Open(fd.FileName, fd.Encoding)
	if err != nil {
		return -1, err
	}
	defer reader.Close()
	bufReader := bufio.NewReader(reader)
	count := int64(0)
	if fd.Header {
		_, err := bufReader.ReadString('\n')
		if err != nil && err != io.EOF {
			return -1, err
		}
		if err == io.EOF {
			return count, nil
		}
	}
	for {
		line, err := bufReader.ReadString('\n')
		if err != nil && err != io.EOF {
			return -1, err
		}
		if line != "" && line != "\n" && line != "\r\n" {
			count++
		}
		if err == io.EOF {
			return count, nil
		}
	}
}
