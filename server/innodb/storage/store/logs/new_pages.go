package logs

import (
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/pages"
)

// Relation is what the logger needs to know about the target relation.
type Relation interface {
	RelFileNode() uint32
	// NeedsWAL unlogged/临时表返回false
	NeedsWAL() bool
}

// LogNewPages emits full-page images for a batch of freshly built pages,
// at most maxBlockRefs images per record. After each record is inserted
// every non-new page it covers is stamped with the record's LSN. Returns
// the LSN of the last record, or InvalidLSN when nothing was logged.
func LogNewPages(sink Sink, xid basic.TransactionID, rel Relation, fork basic.ForkNumber,
	blocks []basic.BlockNumber, pgs []pages.Page, maxBlockRefs int) (basic.LSN, error) {
	if !rel.NeedsWAL() || len(pgs) == 0 {
		return basic.InvalidLSN, nil
	}
	if len(blocks) != len(pgs) {
		return basic.InvalidLSN, basic.ProtocolError.New("%d block numbers for %d pages", len(blocks), len(pgs))
	}
	if maxBlockRefs <= 0 || maxBlockRefs > MaxBlockRefsLimit {
		return basic.InvalidLSN, basic.ProtocolError.New("invalid max block references %d", maxBlockRefs)
	}

	var lsn basic.LSN
	for i := 0; i < len(pgs); i += maxBlockRefs {
		end := i + maxBlockRefs
		if end > len(pgs) {
			end = len(pgs)
		}
		rec := &Record{Type: RecordFullPageImage, Xid: xid, Blocks: make([]BlockImage, 0, end-i)}
		for j := i; j < end; j++ {
			rec.Blocks = append(rec.Blocks, BlockImage{
				RelFileNode: rel.RelFileNode(),
				Fork:        fork,
				Block:       blocks[j],
				Image:       pgs[j],
			})
		}
		var err error
		if lsn, err = sink.Insert(rec); err != nil {
			return basic.InvalidLSN, err
		}
		for j := i; j < end; j++ {
			if !pgs[j].IsNew() {
				pgs[j].SetLSN(lsn)
			}
		}
	}
	return lsn, nil
}

// LogNewPage 记录单个页面
func LogNewPage(sink Sink, xid basic.TransactionID, rel Relation, fork basic.ForkNumber,
	block basic.BlockNumber, page pages.Page) (basic.LSN, error) {
	return LogNewPages(sink, xid, rel, fork, []basic.BlockNumber{block}, []pages.Page{page}, 1)
}
