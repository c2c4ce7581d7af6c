package table

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-directpath/logger"
	"github.com/zhukovaskychina/xmysql-directpath/server/conf"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
)

// FirstNormalObjectID 用户对象的relfilenode从这里开始分配
const FirstNormalObjectID = 16384

var (
	ErrTableNotFound = errors.New("relation does not exist")
	ErrTableExists   = errors.New("relation already exists")
)

type columnFile struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

type indexFile struct {
	Name        string   `toml:"name"`
	RelFileNode int64    `toml:"relfilenode"`
	Columns     []string `toml:"columns"`
	Unique      bool     `toml:"unique"`
}

// descriptorFile 是描述符在 <data_dir>/catalog/<name>.toml 中的形式
type descriptorFile struct {
	Name             string       `toml:"name"`
	RelFileNode      int64        `toml:"relfilenode"`
	ToastRelFileNode int64        `toml:"toast_relfilenode"`
	Kind             string       `toml:"kind"`
	Persistence      string       `toml:"persistence"`
	FillFactor       int64        `toml:"fillfactor"`
	ToastTupleTarget int64        `toml:"toast_tuple_target"`
	Columns          []columnFile `toml:"columns"`
	Indexes          []indexFile  `toml:"indexes"`
}

func toFile(d *Descriptor) *descriptorFile {
	f := &descriptorFile{
		Name:             d.Name,
		RelFileNode:      int64(d.RelFileNode),
		ToastRelFileNode: int64(d.ToastRelFileNode),
		Kind:             d.Kind,
		Persistence:      d.Persistence,
		FillFactor:       int64(d.FillFactor),
		ToastTupleTarget: int64(d.ToastTupleTarget),
	}
	for _, c := range d.Columns {
		f.Columns = append(f.Columns, columnFile{Name: c.Name, Type: c.Type})
	}
	for _, idx := range d.Indexes {
		f.Indexes = append(f.Indexes, indexFile{Name: idx.Name, RelFileNode: int64(idx.RelFileNode), Columns: idx.Columns, Unique: idx.Unique})
	}
	return f
}

func fromFile(f *descriptorFile) *Descriptor {
	d := &Descriptor{
		Name:             f.Name,
		RelFileNode:      uint32(f.RelFileNode),
		ToastRelFileNode: uint32(f.ToastRelFileNode),
		Kind:             f.Kind,
		Persistence:      f.Persistence,
		FillFactor:       int(f.FillFactor),
		ToastTupleTarget: int(f.ToastTupleTarget),
	}
	for _, c := range f.Columns {
		d.Columns = append(d.Columns, Column{Name: c.Name, Type: c.Type})
	}
	for _, idx := range f.Indexes {
		d.Indexes = append(d.Indexes, IndexDescriptor{Name: idx.Name, RelFileNode: uint32(idx.RelFileNode), Columns: idx.Columns, Unique: idx.Unique})
	}
	return d
}

// OptionsFromConfig 从配置构造存储参数
func OptionsFromConfig(cfg *conf.Cfg) StorageOptions {
	return StorageOptions{
		DataDir:           cfg.DataDir,
		PageSize:          cfg.PageSize,
		SegmentPages:      cfg.SegmentPages,
		Checksums:         cfg.DataChecksums,
		DefaultFillFactor: cfg.DirectPath.DefaultFillFactor,
	}
}

// Catalog 表目录: 描述符保存为toml文件, 并用ristretto缓存
type Catalog struct {
	mu    sync.Mutex
	dir   string
	opts  StorageOptions
	cache *ristretto.Cache[string, *Descriptor]
	locks *LockManager
}

func NewCatalog(opts StorageOptions) (*Catalog, error) {
	dir := filepath.Join(opts.DataDir, "catalog")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, basic.IOError.Wrap(errors.Wrapf(err, "could not create directory %s", dir))
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *Descriptor]{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create relcache")
	}
	return &Catalog{dir: dir, opts: opts, cache: cache, locks: NewLockManager()}, nil
}

func (c *Catalog) Options() StorageOptions {
	return c.opts
}

func (c *Catalog) Locks() *LockManager {
	return c.locks
}

func (c *Catalog) path(name string) string {
	return filepath.Join(c.dir, strings.ToLower(name)+".toml")
}

func validate(d *Descriptor) error {
	if d.Name == "" || strings.ContainsAny(d.Name, `/\. `) {
		return errors.Errorf("invalid relation name %q", d.Name)
	}
	switch d.Kind {
	case KindOrdinary, KindPartitioned, KindView, KindForeign:
	default:
		return errors.Errorf("invalid relation kind %q", d.Kind)
	}
	switch d.Persistence {
	case PersistencePermanent, PersistenceUnlogged, PersistenceTemp:
	default:
		return errors.Errorf("invalid persistence %q", d.Persistence)
	}
	if d.FillFactor != 0 && (d.FillFactor < 10 || d.FillFactor > 100) {
		return errors.Errorf("fillfactor must be between 10 and 100, got %d", d.FillFactor)
	}
	if d.ToastTupleTarget < 0 {
		return errors.Errorf("toast_tuple_target must not be negative")
	}
	if len(d.Columns) == 0 {
		return errors.Errorf("relation %s has no columns", d.Name)
	}
	seen := map[string]bool{}
	for _, col := range d.Columns {
		if seen[col.Name] {
			return errors.Errorf("column %q specified more than once", col.Name)
		}
		seen[col.Name] = true
		switch col.Type {
		case TypeInt, TypeText, TypeNumeric, TypeBytea:
		default:
			return errors.Errorf("column %q has unknown type %q", col.Name, col.Type)
		}
	}
	for _, idx := range d.Indexes {
		if len(idx.Columns) == 0 {
			return errors.Errorf("index %q has no columns", idx.Name)
		}
		for _, col := range idx.Columns {
			if !seen[col] {
				return errors.Errorf("column %q named in index %q does not exist", col, idx.Name)
			}
		}
	}
	return nil
}

// nextOID 扫描目录中已有的描述符, 返回下一个可用的relfilenode
func (c *Catalog) nextOID() (uint32, error) {
	next := uint32(FirstNormalObjectID)
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, basic.IOError.Wrap(errors.Wrapf(err, "could not read directory %s", c.dir))
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		d, err := c.load(strings.TrimSuffix(e.Name(), ".toml"))
		if err != nil {
			return 0, err
		}
		for _, oid := range []uint32{d.RelFileNode, d.ToastRelFileNode} {
			if oid >= next {
				next = oid + 1
			}
		}
		for _, idx := range d.Indexes {
			if idx.RelFileNode >= next {
				next = idx.RelFileNode + 1
			}
		}
	}
	return next, nil
}

// Create 保存新表定义, 并分配表/toast/索引的relfilenode
func (c *Catalog) Create(desc *Descriptor) (*Descriptor, error) {
	d := *desc
	d.Columns = append([]Column(nil), desc.Columns...)
	d.Indexes = append([]IndexDescriptor(nil), desc.Indexes...)
	if d.Kind == "" {
		d.Kind = KindOrdinary
	}
	if d.Persistence == "" {
		d.Persistence = PersistencePermanent
	}
	if err := validate(&d); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := os.Stat(c.path(d.Name)); err == nil {
		return nil, errors.Wrapf(ErrTableExists, "relation %q", d.Name)
	}
	oid, err := c.nextOID()
	if err != nil {
		return nil, err
	}
	d.RelFileNode, d.ToastRelFileNode = oid, oid+1
	oid += 2
	for i := range d.Indexes {
		d.Indexes[i].RelFileNode = oid
		oid++
	}

	data, err := toml.Marshal(*toFile(&d))
	if err != nil {
		return nil, errors.Wrapf(err, "marshal descriptor %s", d.Name)
	}
	tmp := c.path(d.Name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return nil, basic.IOError.Wrap(errors.Wrapf(err, "could not write to file %s", tmp))
	}
	if err := os.Rename(tmp, c.path(d.Name)); err != nil {
		return nil, basic.IOError.Wrap(errors.Wrapf(err, "could not rename file %s", tmp))
	}
	logger.Infof("created relation %s (relfilenode %d, %d indexes)", d.Name, d.RelFileNode, len(d.Indexes))
	c.cache.Del(strings.ToLower(d.Name))
	return &d, nil
}

func (c *Catalog) load(name string) (*Descriptor, error) {
	data, err := os.ReadFile(c.path(name))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrTableNotFound, "relation %q", name)
	}
	if err != nil {
		return nil, basic.IOError.Wrap(errors.Wrapf(err, "could not read file %s", c.path(name)))
	}
	var f descriptorFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, basic.CorruptionError.Wrap(errors.Wrapf(err, "invalid descriptor %s", c.path(name)))
	}
	d := fromFile(&f)
	if err := validate(d); err != nil {
		return nil, basic.CorruptionError.Wrap(err)
	}
	return d, nil
}

// Lookup returns the descriptor of name. The result is shared and must not
// be modified.
func (c *Catalog) Lookup(name string) (*Descriptor, error) {
	key := strings.ToLower(name)
	if d, ok := c.cache.Get(key); ok {
		return d, nil
	}
	d, err := c.load(name)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, d, 1)
	c.cache.Wait()
	return d, nil
}

// Open 打开表并获取指定模式的表锁
func (c *Catalog) Open(ctx context.Context, name string, mode LockMode) (*Relation, error) {
	d, err := c.Lookup(name)
	if err != nil {
		return nil, err
	}
	release, err := c.locks.Acquire(ctx, d.RelFileNode, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "could not obtain %s on relation %s", mode, d.Name)
	}
	rel := NewRelation(d, c.opts)
	rel.mode, rel.release = mode, release
	return rel, nil
}

func (c *Catalog) Close() {
	c.cache.Close()
}
