package table

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-directpath/server/conf"
)

func testCatalog(t *testing.T) *Catalog {
	cfg := conf.NewCfg()
	cfg.DataDir = t.TempDir()
	cat, err := NewCatalog(OptionsFromConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(cat.Close)
	return cat
}

func itemsTable(name string) *Descriptor {
	return &Descriptor{
		Name:    name,
		Columns: []Column{{Name: "id", Type: TypeInt}, {Name: "name", Type: TypeText}, {Name: "price", Type: TypeNumeric}},
		Indexes: []IndexDescriptor{{Name: name + "_id_idx", Columns: []string{"id"}, Unique: true}},
	}
}

func TestCatalogCreateAndLookup(t *testing.T) {
	cat := testCatalog(t)

	created, err := cat.Create(itemsTable("items"))
	require.NoError(t, err)
	assert.Equal(t, uint32(FirstNormalObjectID), created.RelFileNode)
	assert.Equal(t, uint32(FirstNormalObjectID+1), created.ToastRelFileNode)
	assert.Equal(t, uint32(FirstNormalObjectID+2), created.Indexes[0].RelFileNode)
	assert.Equal(t, KindOrdinary, created.Kind)
	assert.Equal(t, PersistencePermanent, created.Persistence)

	second, err := cat.Create(itemsTable("orders"))
	require.NoError(t, err)
	assert.Equal(t, uint32(FirstNormalObjectID+3), second.RelFileNode)

	got, err := cat.Lookup("ITEMS")
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.Equal(t, 1, got.ColumnIndex("name"))
	assert.Equal(t, -1, got.ColumnIndex("missing"))

	_, err = cat.Create(itemsTable("items"))
	assert.True(t, errors.Is(err, ErrTableExists))

	_, err = cat.Lookup("nothing")
	assert.True(t, errors.Is(err, ErrTableNotFound))
}

func TestCatalogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	opts := StorageOptions{DataDir: dir, PageSize: 8192, SegmentPages: 16, Checksums: true, DefaultFillFactor: 100}
	cat, err := NewCatalog(opts)
	require.NoError(t, err)
	desc := itemsTable("items")
	desc.Persistence = PersistenceUnlogged
	desc.FillFactor = 70
	desc.ToastTupleTarget = 8160
	created, err := cat.Create(desc)
	require.NoError(t, err)
	cat.Close()

	cat, err = NewCatalog(opts)
	require.NoError(t, err)
	defer cat.Close()
	got, err := cat.Lookup("items")
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestCatalogRejectsInvalidDescriptors(t *testing.T) {
	cat := testCatalog(t)
	cases := map[string]*Descriptor{
		"no columns":       {Name: "t"},
		"bad type":         {Name: "t", Columns: []Column{{Name: "a", Type: "blob"}}},
		"duplicate column": {Name: "t", Columns: []Column{{Name: "a", Type: TypeInt}, {Name: "a", Type: TypeInt}}},
		"bad index column": {Name: "t", Columns: []Column{{Name: "a", Type: TypeInt}}, Indexes: []IndexDescriptor{{Name: "i", Columns: []string{"b"}}}},
		"bad fillfactor":   {Name: "t", FillFactor: 5, Columns: []Column{{Name: "a", Type: TypeInt}}},
		"bad name":         {Name: "../t", Columns: []Column{{Name: "a", Type: TypeInt}}},
		"bad kind":         {Name: "t", Kind: "sequence", Columns: []Column{{Name: "a", Type: TypeInt}}},
	}
	for name, desc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := cat.Create(desc)
			assert.Error(t, err)
		})
	}
}

func TestRelationProperties(t *testing.T) {
	cat := testCatalog(t)
	_, err := cat.Create(itemsTable("items"))
	require.NoError(t, err)

	rel, err := cat.Open(context.Background(), "items", AccessExclusiveLock)
	require.NoError(t, err)
	defer rel.Close()

	assert.True(t, rel.NeedsWAL())
	assert.Equal(t, 100, rel.FillFactor())
	assert.Equal(t, 8192, rel.PageSize())
	assert.Equal(t, filepath.Join(cat.Options().DataDir, "base"), rel.Space().Dir)
	assert.Equal(t, rel.RelFileNode(), rel.Space().RelFileNode)
	idx := &rel.Descriptor().Indexes[0]
	assert.Equal(t, filepath.Join(rel.BaseDir(), "16386"), rel.IndexPath(idx))
	assert.True(t, rel.IndexRelation(idx).NeedsWAL())

	n, err := rel.NumberOfBlocks()
	require.NoError(t, err)
	assert.Zero(t, n)

	unlogged := NewRelation(&Descriptor{Name: "u", Persistence: PersistenceUnlogged, FillFactor: 80}, cat.Options())
	assert.False(t, unlogged.NeedsWAL())
	assert.Equal(t, 80, unlogged.FillFactor())
	temp := NewRelation(&Descriptor{Name: "t", Persistence: PersistenceTemp}, cat.Options())
	assert.False(t, temp.NeedsWAL())
}

func TestExclusiveLockBlocksUntilReleased(t *testing.T) {
	lm := NewLockManager()
	release, err := lm.Acquire(context.Background(), 1, AccessExclusiveLock)
	require.NoError(t, err)
	assert.True(t, lm.Held(1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = lm.Acquire(ctx, 1, AccessShareLock)
	assert.Equal(t, context.DeadlineExceeded, err)

	// 其他表不受影响
	other, err := lm.Acquire(context.Background(), 2, AccessExclusiveLock)
	require.NoError(t, err)
	other()

	granted := make(chan struct{})
	go func() {
		r, err := lm.Acquire(context.Background(), 1, AccessExclusiveLock)
		if err == nil {
			r()
		}
		close(granted)
	}()
	release()
	release()
	select {
	case <-granted:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken up")
	}
	assert.False(t, lm.Held(1))
}

func TestSharedLocksAreCompatible(t *testing.T) {
	lm := NewLockManager()
	r1, err := lm.Acquire(context.Background(), 1, AccessShareLock)
	require.NoError(t, err)
	r2, err := lm.Acquire(context.Background(), 1, AccessShareLock)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = lm.Acquire(ctx, 1, AccessExclusiveLock)
	assert.Error(t, err)

	r1()
	r2()
	r3, err := lm.Acquire(context.Background(), 1, AccessExclusiveLock)
	require.NoError(t, err)
	r3()
}
