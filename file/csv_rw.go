package file

import (
	"bufio"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

//FieldSet the fields of one record
type FieldSet struct {
	//Record 1-based number of the record, the header not included
	Record int64
	Names  []string
	Values []string
}

//Map field values by name, fields without a name are keyed by their position
func (fs FieldSet) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(fs.Values))
	for i, v := range fs.Values {
		if i < len(fs.Names) && fs.Names[i] != "" {
			m[fs.Names[i]] = v
		} else {
			m[strconv.Itoa(i)] = v
		}
	}
	return m
}

//RecordMapper maps the fields of a record to an item
type RecordMapper func(fs FieldSet) (interface{}, error)

//StructMapper a RecordMapper decoding fields into the struct returned by newItem, matched by `field` tags
func StructMapper(newItem func() interface{}) RecordMapper {
	return func(fs FieldSet) (interface{}, error) {
		item := newItem()
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			TagName:          "field",
			Result:           item,
		})
		if err != nil {
			return nil, err
		}
		if err = decoder.Decode(fs.Map()); err != nil {
			return nil, errors.Wrapf(err, "decode record %v", fs.Record)
		}
		return item, nil
	}
}

//RecordReader reads the records of a delimited file in order
type RecordReader struct {
	fd      FileDescriptor
	reader  io.ReadCloser
	cReader *csv.Reader
	names   []string
	count   int64
}

//OpenRecords open fd for reading, the header is consumed
func OpenRecords(fd FileDescriptor) (*RecordReader, error) {
	if fd.FileStore == nil {
		return nil, errors.Errorf("no file storage for %v", fd.FileName)
	}
	reader, err := fd.FileStore.Open(fd.FileName, fd.Encoding)
	if err != nil {
		return nil, errors.Wrapf(err, "open file %v", fd)
	}
	cReader := csv.NewReader(bufio.NewReader(reader))
	cReader.Comma = fd.separator()
	cReader.Comment = fd.Comment
	cReader.FieldsPerRecord = -1
	cReader.LazyQuotes = true
	cReader.ReuseRecord = false
	rr := &RecordReader{fd: fd, reader: reader, cReader: cReader, names: fd.Fields}
	if fd.Header {
		header, err := cReader.Read()
		if err != nil && err != io.EOF {
			reader.Close()
			return nil, errors.Wrapf(err, "read header of %v", fd)
		}
		if len(rr.names) == 0 {
			rr.names = header
		}
	}
	return rr, nil
}

//Read the next record, io.EOF at the end of file.
//A malformed record is consumed and reported as *csv.ParseError.
func (r *RecordReader) Read() (FieldSet, error) {
	record, err := r.cReader.Read()
	if err == io.EOF {
		return FieldSet{}, io.EOF
	}
	r.count++
	if err != nil {
		return FieldSet{Record: r.count}, err
	}
	return FieldSet{Record: r.count, Names: r.names, Values: record}, nil
}

//SkipTo move past the first n records
func (r *RecordReader) SkipTo(n int64) error {
	for r.count < n {
		_, err := r.cReader.Read()
		if err == io.EOF {
			return errors.Errorf("file %v has only %v records, can not skip to %v", r.fd, r.count, n)
		}
		r.count++
		var pe *csv.ParseError
		if err != nil && !errors.As(err, &pe) {
			return err
		}
	}
	return nil
}

//Count number of records read or skipped so far
func (r *RecordReader) Count() int64 {
	return r.count
}

func (r *RecordReader) Close() error {
	return r.reader.Close()
}
