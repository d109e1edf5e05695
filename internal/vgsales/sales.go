// Package vgsales loads the video game sales csv export into a SQL table.
package vgsales

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"

	"github.com/chararch/batchcore"
	"github.com/chararch/batchcore/file"
	"github.com/chararch/batchcore/sqlrepo"
	"github.com/pkg/errors"
)

//Fields column names of vgsales.csv in order
var Fields = []string{"Rank", "Name", "Platform", "Year", "Genre", "Publisher", "NA_Sales", "EU_Sales", "JP_Sales", "Other_Sales", "Global_Sales"}

//Sale one row of vgsales.csv, sales are in millions of units
type Sale struct {
	Rank        int     `field:"Rank"`
	Name        string  `field:"Name"`
	Platform    string  `field:"Platform"`
	Year        int     `field:"Year"`
	Genre       string  `field:"Genre"`
	Publisher   string  `field:"Publisher"`
	NASales     float64 `field:"NA_Sales"`
	EUSales     float64 `field:"EU_Sales"`
	JPSales     float64 `field:"JP_Sales"`
	OtherSales  float64 `field:"Other_Sales"`
	GlobalSales float64 `field:"Global_Sales"`
}

//Mapper map a record of vgsales.csv to *Sale.
//Rows without rank or name, and rows whose numbers do not parse (such as a Year of N/A), are rejected.
func Mapper() file.RecordMapper {
	decode := file.StructMapper(func() interface{} {
		return &Sale{}
	})
	return func(fs file.FieldSet) (interface{}, error) {
		item, err := decode(fs)
		if err != nil {
			return nil, err
		}
		sale := item.(*Sale)
		if sale.Rank <= 0 || strings.TrimSpace(sale.Name) == "" {
			return nil, errors.Errorf("record %v has no rank or name", fs.Record)
		}
		return sale, nil
	}
}

//TableName table the sales are written to
const TableName = "vgsales"

const createTableSQL = `CREATE TABLE IF NOT EXISTS vgsales (
    sales_rank   INTEGER PRIMARY KEY,
    name         VARCHAR(255) NOT NULL,
    platform     VARCHAR(20),
    release_year INTEGER,
    genre        VARCHAR(20),
    publisher    VARCHAR(255),
    na_sales     DOUBLE PRECISION,
    eu_sales     DOUBLE PRECISION,
    jp_sales     DOUBLE PRECISION,
    other_sales  DOUBLE PRECISION,
    global_sales DOUBLE PRECISION
)`

const insertSQL = "INSERT INTO vgsales(sales_rank, name, platform, release_year, genre, publisher, na_sales, eu_sales, jp_sales, other_sales, global_sales) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

//CreateTable create the vgsales table when absent
func CreateTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, createTableSQL)
	return errors.Wrap(err, "create table vgsales")
}

//Writer inserts sales in the transaction of the chunk, so rows and checkpoint commit together
type Writer struct {
	dbType string
}

func NewWriter(dbType string) *Writer {
	return &Writer{dbType: dbType}
}

func (w *Writer) Write(items []interface{}, chunkCtx *batchcore.ChunkContext) batchcore.BatchError {
	tx, ok := chunkCtx.Tx.(*sql.Tx)
	if !ok {
		return batchcore.NewFatalError("vgsales writer needs a *sql.Tx, got %T", chunkCtx.Tx)
	}
	ctx := chunkCtx.Context()
	stmt, err := tx.PrepareContext(ctx, sqlrepo.Rebind(w.dbType, insertSQL))
	if err != nil {
		return classify(err, "prepare insert of vgsales")
	}
	defer stmt.Close()
	for _, item := range items {
		sale, ok := item.(*Sale)
		if !ok {
			return batchcore.NewSkippableError("unexpected item type %T", item)
		}
		_, err = stmt.ExecContext(ctx, sale.Rank, sale.Name, sale.Platform, sale.Year, sale.Genre, sale.Publisher,
			sale.NASales, sale.EUSales, sale.JPSales, sale.OtherSales, sale.GlobalSales)
		if err != nil {
			return classify(err, "insert vgsales rank:%v", sale.Rank)
		}
	}
	return nil
}

//classify a lost connection may be retried, anything else fails the chunk
func classify(err error, msg string, args ...interface{}) batchcore.BatchError {
	args = append(args, err)
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return batchcore.NewTransientError(msg, args...)
	}
	return batchcore.NewBatchError(batchcore.ErrCodeDbFail, msg, args...)
}
