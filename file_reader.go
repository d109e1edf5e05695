package batchcore

import (
	"encoding/csv"
	"io"

	"github.com/chararch/batchcore/file"
	"github.com/pkg/errors"
)

const (
	//FileReaderCurrentRecord context key of the number of records consumed from the input file
	FileReaderCurrentRecord = "batchcore.file.reader.current.record"
	//FileReaderTotalRecords context key of the number of records in the input file, counted on the first open
	FileReaderTotalRecords = "batchcore.file.reader.total.records"
	fileReaderFileNameKey   = "batchcore.file.reader.file.name"
)

//fileReader reads a delimited file record by record and maps each record to an item.
//Malformed records and mapping failures are skippable.
type fileReader struct {
	fd      file.FileDescriptor
	mapper  file.RecordMapper
	handles executionStates[*file.RecordReader]
}

func newFileReader(fd file.FileDescriptor, mapper file.RecordMapper) *fileReader {
	if fd.FileStore == nil {
		fd.FileStore = &file.LocalFileSystem{}
	}
	if mapper == nil {
		mapper = func(fs file.FieldSet) (interface{}, error) {
			return fs.Map(), nil
		}
	}
	return &fileReader{fd: fd, mapper: mapper}
}

func (r *fileReader) Open(execution *StepExecution) BatchError {
	fd := r.fd
	fp := &FilePath{fd.FileName}
	fileName, err := fp.Format(execution)
	if err != nil {
		return NewBatchError(ErrCodeGeneral, "get real file path:%v err", fd.FileName, err)
	}
	fd.FileName = fileName
	executionCtx := execution.StepExecutionContext
	if last, _ := executionCtx.GetString(fileReaderFileNameKey); last != "" && last != fileName {
		return NewBatchError(ErrCodeGeneral, "input file changed since last execution, last:%v, current:%v", last, fileName)
	}
	if err = file.VerifyChecksum(fd); err != nil {
		return NewBatchError(ErrCodeGeneral, "verify file checksum:%v err", fd, err)
	}
	if !executionCtx.Exists(FileReaderTotalRecords) {
		total, err := file.Count(fd)
		if err != nil {
			return NewBatchError(ErrCodeGeneral, "count records of file:%v err", fd, err)
		}
		executionCtx.Put(FileReaderTotalRecords, total)
	}
	records, err := file.OpenRecords(fd)
	if err != nil {
		return NewBatchError(ErrCodeGeneral, "open file reader:%v err", fd, err)
	}
	current, err := executionCtx.GetInt64(FileReaderCurrentRecord, 0)
	if err != nil {
		records.Close()
		return NewBatchError(ErrCodeGeneral, "invalid file position in step context", err)
	}
	if err = records.SkipTo(current); err != nil {
		records.Close()
		return NewBatchError(ErrCodeGeneral, "skip to file item:%v pos:%v err", fd, current, err)
	}
	executionCtx.Put(fileReaderFileNameKey, fileName)
	r.handles.put(execution, records)
	return nil
}

func (r *fileReader) Read(chunkCtx *ChunkContext) (interface{}, BatchError) {
	records, ok := r.handles.get(chunkCtx.StepExecution)
	if !ok {
		return nil, NewBatchError(ErrCodeGeneral, "file reader is not opened for step:%v", chunkCtx.StepExecution.StepName)
	}
	fs, err := records.Read()
	if err == io.EOF {
		return nil, nil
	}
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return nil, NewSkippableError("malformed record:%v in file:%v", fs.Record, r.fd.FileName, err)
	}
	if err != nil {
		return nil, NewBatchError(ErrCodeGeneral, "read item from file:%v err", r.fd.FileName, err)
	}
	item, err := r.mapper(fs)
	if err != nil {
		var be BatchError
		if errors.As(err, &be) {
			return nil, be
		}
		return nil, NewSkippableError("map record:%v of file:%v err", fs.Record, r.fd.FileName, err)
	}
	return item, nil
}

//Update save the number of consumed records
func (r *fileReader) Update(execution *StepExecution) BatchError {
	if records, ok := r.handles.get(execution); ok {
		execution.StepExecutionContext.Put(FileReaderCurrentRecord, records.Count())
	}
	return nil
}

func (r *fileReader) Close(execution *StepExecution) BatchError {
	records, ok := r.handles.remove(execution)
	if !ok {
		return nil
	}
	if err := records.Close(); err != nil {
		return NewBatchError(ErrCodeGeneral, "close file reader:%v err", r.fd.FileName, err)
	}
	return nil
}
