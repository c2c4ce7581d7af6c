package engine

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/piex/transcode"
	"github.com/shopspring/decimal"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/table"
)

// DefaultNullString CSV中表示NULL的字段
const DefaultNullString = `\N`

// ParseValue converts the text form of a column value into its stored form.
// int → 8 byte little endian, numeric → canonical decimal text, text and
// bytea are kept as is.
func ParseValue(col table.Column, text string) ([]byte, error) {
	switch col.Type {
	case table.TypeInt:
		v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return nil, errors.NotValidf("integer %q for column %s", text, col.Name)
		}
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(v))
		return b, nil
	case table.TypeNumeric:
		d, err := decimal.NewFromString(strings.TrimSpace(text))
		if err != nil {
			return nil, errors.NotValidf("numeric %q for column %s", text, col.Name)
		}
		return []byte(d.String()), nil
	}
	return []byte(text), nil
}

// FormatValue 与ParseValue相反, 用于输出
func FormatValue(col table.Column, v []byte) string {
	if v == nil {
		return "NULL"
	}
	if col.Type == table.TypeInt && len(v) == 8 {
		return strconv.FormatInt(int64(binary.LittleEndian.Uint64(v)), 10)
	}
	return string(v)
}

// ValuesSource 内存中的行
type ValuesSource struct {
	rows []basic.Row
	pos  int
}

func NewValuesSource(rows ...basic.Row) *ValuesSource {
	return &ValuesSource{rows: rows}
}

func (s *ValuesSource) Next(ctx context.Context) (basic.Row, error) {
	if s.pos >= len(s.rows) {
		return nil, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

type CSVOptions struct {
	// Encoding 输入字符集, 比如GBK; 为空表示UTF-8
	Encoding string
	Header   bool
	Comma    rune
	Null     string
}

// CSVSource reads typed rows from CSV input.
type CSVSource struct {
	r      *csv.Reader
	desc   *table.Descriptor
	opts   CSVOptions
	line   int
	header bool
}

func NewCSVSource(r io.Reader, desc *table.Descriptor, opts CSVOptions) *CSVSource {
	cr := csv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.FieldsPerRecord = len(desc.Columns)
	cr.ReuseRecord = true
	if opts.Null == "" {
		opts.Null = DefaultNullString
	}
	return &CSVSource{r: cr, desc: desc, opts: opts, header: opts.Header}
}

func (s *CSVSource) Next(ctx context.Context) (basic.Row, error) {
	for {
		record, err := s.r.Read()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Annotate(err, "read csv")
		}
		s.line++
		if s.header {
			s.header = false
			continue
		}
		row := make(basic.Row, len(record))
		for i, field := range record {
			if field == s.opts.Null {
				continue
			}
			if s.opts.Encoding != "" && !strings.EqualFold(s.opts.Encoding, "utf-8") && !strings.EqualFold(s.opts.Encoding, "utf8") {
				field = transcode.FromString(field).Decode(strings.ToUpper(s.opts.Encoding)).ToString()
			}
			v, err := ParseValue(s.desc.Columns[i], field)
			if err != nil {
				return nil, errors.Annotatef(err, "line %d", s.line)
			}
			row[i] = v
		}
		return row, nil
	}
}

// SQLSource streams the result of a query from another database.
type SQLSource struct {
	rows *sql.Rows
	desc *table.Descriptor
	vals []sql.RawBytes
	ptrs []interface{}
}

func NewSQLSource(ctx context.Context, db *sql.DB, query string, desc *table.Descriptor) (*SQLSource, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Annotatef(err, "query %q", query)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, errors.Trace(err)
	}
	if len(cols) != len(desc.Columns) {
		rows.Close()
		return nil, errors.NotValidf("query returns %d columns, table %s has %d", len(cols), desc.Name, len(desc.Columns))
	}
	s := &SQLSource{rows: rows, desc: desc, vals: make([]sql.RawBytes, len(cols)), ptrs: make([]interface{}, len(cols))}
	for i := range s.vals {
		s.ptrs[i] = &s.vals[i]
	}
	return s, nil
}

func (s *SQLSource) Next(ctx context.Context) (basic.Row, error) {
	if !s.rows.Next() {
		return nil, errors.Trace(s.rows.Err())
	}
	if err := s.rows.Scan(s.ptrs...); err != nil {
		return nil, errors.Trace(err)
	}
	row := make(basic.Row, len(s.vals))
	for i, raw := range s.vals {
		if raw == nil {
			continue
		}
		v, err := ParseValue(s.desc.Columns[i], string(raw))
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

func (s *SQLSource) Close() error {
	return s.rows.Close()
}
