package file

import (
	"fmt"
	"io"
	"net/textproto"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"
)

//FileStorage where input files live
type FileStorage interface {
	Exists(fileName string) (ok bool, err error)
	Open(fileName, encoding string) (reader io.ReadCloser, err error)
}

type LocalFileSystem struct {
}

func (fs *LocalFileSystem) Exists(fileName string) (bool, error) {
	_, err := os.Stat(fileName)
	if err != nil && os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (fs *LocalFileSystem) Open(fileName, encoding string) (io.ReadCloser, error) {
	return os.Open(fileName)
}

func (fs *LocalFileSystem) String() string {
	return "file"
}

//FTPFileSystem files on a ftp server, every operation uses its own connection
type FTPFileSystem struct {
	Host        string
	Port        int
	User        string
	Password    string
	ConnTimeout time.Duration
}

func (fs *FTPFileSystem) connect() (*ftp.ServerConn, error) {
	c, err := ftp.Dial(fmt.Sprintf("%s:%d", fs.Host, fs.Port), ftp.DialWithTimeout(fs.ConnTimeout))
	if err != nil {
		return nil, errors.Wrapf(err, "dial ftp server %s:%d", fs.Host, fs.Port)
	}
	if err = c.Login(fs.User, fs.Password); err != nil {
		c.Quit()
		return nil, errors.Wrapf(err, "login ftp server %s:%d", fs.Host, fs.Port)
	}
	return c, nil
}

func (fs *FTPFileSystem) Exists(fileName string) (bool, error) {
	c, err := fs.connect()
	if err != nil {
		return false, err
	}
	defer c.Quit()
	_, err = c.FileSize(fileName)
	if err == nil {
		return true, nil
	}
	if e, ok := err.(*textproto.Error); ok && e.Code == ftp.StatusFileUnavailable {
		return false, nil
	}
	return false, err
}

//ftpReader closes the transfer and then the connection
type ftpReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpReader) Close() error {
	err := r.resp.Close()
	if e := r.conn.Quit(); err == nil {
		err = e
	}
	return err
}

func (fs *FTPFileSystem) Open(fileName, encoding string) (io.ReadCloser, error) {
	c, err := fs.connect()
	if err != nil {
		return nil, err
	}
	resp, err := c.Retr(fileName)
	if err != nil {
		c.Quit()
		return nil, errors.Wrapf(err, "retrieve ftp file:%v", fileName)
	}
	return &ftpReader{resp: resp, conn: c}, nil
}

func (fs *FTPFileSystem) String() string {
	return fmt.Sprintf("ftp://%s:%d", fs.Host, fs.Port)
}
