package heap

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/table"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/toast"
)

func testRelation(t *testing.T, persistence string) *table.Relation {
	desc := &table.Descriptor{
		Name: "t", RelFileNode: 16384, ToastRelFileNode: 16385,
		Kind: table.KindOrdinary, Persistence: persistence,
		Columns: []table.Column{{Name: "id", Type: table.TypeText}, {Name: "payload", Type: table.TypeBytea}},
	}
	return table.NewRelation(desc, table.StorageOptions{
		DataDir: t.TempDir(), PageSize: 8192, SegmentPages: 4, Checksums: true, DefaultFillFactor: 100,
	})
}

func openDeps(t *testing.T, rel *table.Relation) (*logs.FileSink, *toast.FileStore) {
	sink, err := logs.NewFileSink(t.TempDir(), logs.CompressionNone)
	require.NoError(t, err)
	store, err := rel.OpenToast(sink)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
		sink.Close()
	})
	return sink, store
}

func scanAll(t *testing.T, rel *table.Relation, store toast.Store) ([]basic.ItemPointer, []basic.Row) {
	sc, err := NewScanner(rel, store)
	require.NoError(t, err)
	var tids []basic.ItemPointer
	var rows []basic.Row
	for {
		row, err := sc.Next(context.Background())
		require.NoError(t, err)
		if row == nil {
			return tids, rows
		}
		assert.Equal(t, row.TID, row.Tuple.Self())
		values, err := sc.Values(row)
		require.NoError(t, err)
		tids = append(tids, row.TID)
		rows = append(rows, values)
	}
}

func TestOrdinaryInsertAndScan(t *testing.T) {
	rel := testRelation(t, table.PersistencePermanent)
	sink, store := openDeps(t, rel)

	ins := NewInserter(rel, sink, store)
	payload := bytes.Repeat([]byte{'x'}, 1000)
	for i := 0; i < 20; i++ {
		tid, err := ins.Insert(5, 0, basic.Row{[]byte(fmt.Sprintf("row-%02d", i)), payload})
		require.NoError(t, err)
		assert.Equal(t, basic.BlockNumber(i/7), tid.Block, "seven 1KB rows fit in a page")
	}
	ins.Close()

	n, err := rel.NumberOfBlocks()
	require.NoError(t, err)
	assert.Equal(t, basic.BlockNumber(3), n)

	tids, rows := scanAll(t, rel, store)
	require.Len(t, rows, 20)
	assert.Equal(t, basic.ItemPointer{Block: 0, Offset: 1}, tids[0])
	assert.Equal(t, []byte("row-19"), []byte(rows[19][0]))
	assert.Equal(t, payload, []byte(rows[19][1]))

	// 每次插入都会记录一个整页镜像
	require.NoError(t, sink.Flush(sink.InsertLSN()))
	recs, err := logs.ReadAll(sink.Path())
	require.NoError(t, err)
	assert.Len(t, recs, 20)
}

func TestInserterContinuesLastBlock(t *testing.T) {
	rel := testRelation(t, table.PersistenceUnlogged)
	sink, store := openDeps(t, rel)

	first := NewInserter(rel, sink, store)
	_, err := first.Insert(5, 0, basic.Row{[]byte("a"), nil})
	require.NoError(t, err)
	first.Close()

	second := NewInserter(rel, sink, store)
	tid, err := second.Insert(6, 0, basic.Row{[]byte("b"), nil})
	require.NoError(t, err)
	second.Close()
	assert.Equal(t, basic.ItemPointer{Block: 0, Offset: 2}, tid)

	_, rows := scanAll(t, rel, store)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[1][1])
	assert.Equal(t, uint64(0), sink.Records(), "unlogged relations write no WAL")
}

func TestInserterToastsLargeValues(t *testing.T) {
	rel := testRelation(t, table.PersistencePermanent)
	sink, store := openDeps(t, rel)

	big := make([]byte, 20000)
	for i := range big {
		big[i] = byte(i * 7919 % 251)
	}
	ins := NewInserter(rel, sink, store)
	_, err := ins.Insert(5, 0, basic.Row{[]byte("k"), big})
	require.NoError(t, err)
	ins.Close()

	_, rows := scanAll(t, rel, store)
	require.Len(t, rows, 1)
	assert.Equal(t, big, []byte(rows[0][1]))
}

func TestScanDetectsChecksumFailure(t *testing.T) {
	rel := testRelation(t, table.PersistenceUnlogged)
	sink, store := openDeps(t, rel)
	ins := NewInserter(rel, sink, store)
	_, err := ins.Insert(5, 0, basic.Row{[]byte("a"), []byte("b")})
	require.NoError(t, err)
	ins.Close()

	path := rel.Space().SegmentPath(0)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[8100] ^= 0x01
	require.NoError(t, os.WriteFile(path, data, 0600))

	sc, err := NewScanner(rel, store)
	require.NoError(t, err)
	_, err = sc.Next(context.Background())
	assert.True(t, basic.IsCorruption(err))
}

func TestToastThreshold(t *testing.T) {
	rel := testRelation(t, table.PersistencePermanent)
	assert.Equal(t, 2032, ToastThreshold(rel))
	rel.Descriptor().ToastTupleTarget = 8160
	assert.Equal(t, 8160, ToastThreshold(rel))
}
