package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-directpath/logger"
	"github.com/zhukovaskychina/xmysql-directpath/server/conf"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/engine"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/plan"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/table"
)

const help = `
******************************************************************************************
__  ______  ___ ____  _____ ____ _____
\ \/ /  _ \|_ _|  _ \| ____/ ___|_   _|
 \  /| | | || || |_) |  _|| |     | |
 /  \| |_| || ||  _ <| |__| |___  | |
/_/\_\____/|___|_| \_\_____\____| |_|
******************************************************************************************
*帮助:
*1. -configPath   指定xdirect.ini配置文件或目录
*2. -table        目标表
*3. -create       建表, 例如 "id:int,price:numeric,note:text"
*4. -index        建表时的索引, 例如 "events_pkey:id:unique,events_note:note+id"
*5. -csv          从CSV文件加载 (-encoding GBK, -header)
*6. -dsn -query   从MySQL查询结果加载
*7. -append       使用直接路径插入 (/*+ APPEND */)
*8. -explain      只输出计划: text | json
******************************************************************************************
`

type options struct {
	configPath  string
	tableName   string
	create      string
	indexes     string
	persistence string
	csvPath     string
	encoding    string
	header      bool
	dsn         string
	query       string
	appendHint  bool
	explain     string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "configPath", "", "配置文件路径")
	flag.StringVar(&opts.tableName, "table", "", "目标表")
	flag.StringVar(&opts.create, "create", "", "建表的列定义 name:type,...")
	flag.StringVar(&opts.indexes, "index", "", "建表时的索引 name:col+col[:unique],...")
	flag.StringVar(&opts.persistence, "persistence", table.PersistencePermanent, "permanent | unlogged | temp")
	flag.StringVar(&opts.csvPath, "csv", "", "CSV文件")
	flag.StringVar(&opts.encoding, "encoding", "", "CSV字符集, 例如GBK")
	flag.BoolVar(&opts.header, "header", false, "CSV第一行是列名")
	flag.StringVar(&opts.dsn, "dsn", "", "MySQL数据源")
	flag.StringVar(&opts.query, "query", "", "在数据源上执行的查询")
	flag.BoolVar(&opts.appendHint, "append", false, "直接路径插入")
	flag.StringVar(&opts.explain, "explain", "", "text | json")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, help)
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(opts); err != nil {
		logger.Errorf("%+v", err)
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if opts.tableName == "" {
		flag.Usage()
		return errors.New("-table is required")
	}
	config, err := conf.NewCfg().Load(&conf.CommandLineArgs{ConfigPath: opts.configPath})
	if err != nil {
		return err
	}
	if err := logger.InitLogger(logger.LogConfig{
		ErrorLogPath: config.LogError,
		InfoLogPath:  config.LogInfos,
		LogLevel:     config.LogLevel,
	}); err != nil {
		return errors.Wrap(err, "init logger")
	}
	logger.Debugf("config loaded: data_dir=%s wal_dir=%s page_size=%d", config.DataDir, config.WalPath(), config.PageSize)

	catalog, err := table.NewCatalog(table.OptionsFromConfig(config))
	if err != nil {
		return err
	}
	defer catalog.Close()

	compression, err := logs.ParseCompression(config.WalCompression)
	if err != nil {
		return err
	}
	wal, err := logs.NewFileSink(config.WalPath(), compression)
	if err != nil {
		return err
	}
	defer wal.Close()
	trxMgr := manager.NewTransactionManager(wal)
	defer trxMgr.Close()

	if opts.create != "" {
		desc, err := descriptorFromFlags(opts)
		if err != nil {
			return err
		}
		if _, err := catalog.Create(desc); err != nil {
			return err
		}
	}
	desc, err := catalog.Lookup(opts.tableName)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	src, name, err := openSource(ctx, opts, desc)
	if err != nil {
		return err
	}
	if src == nil {
		return nil
	}
	if c, ok := src.(interface{ Close() error }); ok {
		defer c.Close()
	}

	query := "INSERT INTO " + desc.Name
	if opts.appendHint {
		hint := config.DirectPath.AppendHint
		query = "INSERT " + hint + " INTO " + desc.Name
	}
	req := &plan.Request{
		Query: query,
		Stmt:  &plan.Statement{Command: basic.CmdInsert, Table: desc, SourceName: name, Source: src},
	}
	exec := engine.NewExecutor(config, catalog, wal, trxMgr)
	if opts.explain != "" {
		out, err := exec.Explain(req, opts.explain)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}
	res, err := exec.Execute(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("INSERT 0 %d\n", res.AffectedRows)
	return nil
}

func openSource(ctx context.Context, opts options, desc *table.Descriptor) (basic.RowSource, string, error) {
	switch {
	case opts.csvPath != "":
		f, err := os.Open(opts.csvPath)
		if err != nil {
			return nil, "", errors.Wrapf(err, "open %s", opts.csvPath)
		}
		src := engine.NewCSVSource(f, desc, engine.CSVOptions{Encoding: opts.encoding, Header: opts.header})
		return &closingSource{RowSource: src, closer: f.Close}, "CSV Scan on " + opts.csvPath, nil
	case opts.dsn != "":
		if opts.query == "" {
			return nil, "", errors.New("-dsn needs -query")
		}
		db, err := sql.Open("mysql", opts.dsn)
		if err != nil {
			return nil, "", errors.Wrap(err, "open mysql")
		}
		src, err := engine.NewSQLSource(ctx, db, opts.query, desc)
		if err != nil {
			db.Close()
			return nil, "", err
		}
		return &closingSource{RowSource: src, closer: func() error {
			src.Close()
			return db.Close()
		}}, "Query Scan on mysql", nil
	}
	if opts.create != "" {
		return nil, "", nil
	}
	return nil, "", errors.New("one of -csv or -dsn is required")
}

type closingSource struct {
	basic.RowSource
	closer func() error
}

func (s *closingSource) Close() error {
	return s.closer()
}

func descriptorFromFlags(opts options) (*table.Descriptor, error) {
	desc := &table.Descriptor{Name: opts.tableName, Kind: table.KindOrdinary, Persistence: opts.persistence}
	for _, def := range strings.Split(opts.create, ",") {
		parts := strings.Split(strings.TrimSpace(def), ":")
		if len(parts) != 2 || parts[0] == "" {
			return nil, errors.Errorf("invalid column definition %q", def)
		}
		desc.Columns = append(desc.Columns, table.Column{Name: parts[0], Type: strings.ToLower(parts[1])})
	}
	if opts.indexes == "" {
		return desc, nil
	}
	for _, def := range strings.Split(opts.indexes, ",") {
		parts := strings.Split(strings.TrimSpace(def), ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, errors.Errorf("invalid index definition %q", def)
		}
		idx := table.IndexDescriptor{Name: parts[0], Columns: strings.Split(parts[1], "+")}
		if len(parts) == 3 {
			if !strings.EqualFold(parts[2], "unique") {
				return nil, errors.Errorf("invalid index option %q", parts[2])
			}
			idx.Unique = true
		}
		desc.Indexes = append(desc.Indexes, idx)
	}
	return desc, nil
}
