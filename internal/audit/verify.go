package audit

import "context"

// VerificationResult reports the outcome of a hash-chain verification sweep.
type VerificationResult struct {
	OK            bool   `json:"ok"`
	RecordsViewed int    `json:"records_viewed"`
	FirstBreakSeq uint64 `json:"first_break_seq,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// VerifyChain recomputes the hash chain over a contiguous slice of records
// and reports the first break, if any. Pure batch-scan function, independent
// of the live write path, so periodic integrity sweeps can run against
// exported data.
//
// The first record in the slice is verified against its own stored PrevHash
// (which is trusted as the link to the preceding page); every subsequent
// record must link to its predecessor exactly.
func VerifyChain(records []*Record) VerificationResult {
	result := VerificationResult{OK: true, RecordsViewed: len(records)}

	var prevHash string
	for i, record := range records {
		if i == 0 {
			prevHash = record.PrevHash
		}

		if record.PrevHash != prevHash {
			return VerificationResult{
				RecordsViewed: len(records),
				FirstBreakSeq: record.SequenceID,
				Reason:        "prev_hash does not match preceding record hash",
			}
		}

		expected := ComputeHash(record.SequenceID, record.SubjectID, record.Actor,
			record.Action, record.Details, record.PrevHash)
		if record.Hash != expected {
			return VerificationResult{
				RecordsViewed: len(records),
				FirstBreakSeq: record.SequenceID,
				Reason:        "stored hash does not match recomputed hash",
			}
		}

		prevHash = record.Hash
	}

	return result
}

// VerifyRange reads records with sequence in (afterSeq, afterSeq+count] from
// the repository page by page and verifies the chain across page boundaries.
// A count of 0 verifies to the head of the trail.
func VerifyRange(ctx context.Context, repo Repository, afterSeq uint64, count int) (VerificationResult, error) {
	total := VerificationResult{OK: true}
	cursor := afterSeq
	remaining := count

	var prevHash string
	first := true

	for {
		limit := DefaultPageSize
		if count > 0 && remaining < limit {
			limit = remaining
		}

		page, err := repo.Range(ctx, cursor, limit)
		if err != nil {
			return VerificationResult{}, err
		}
		if len(page) == 0 {
			return total, nil
		}

		if first {
			prevHash = page[0].PrevHash
			first = false
		}

		for _, record := range page {
			total.RecordsViewed++
			if record.PrevHash != prevHash {
				total.OK = false
				total.FirstBreakSeq = record.SequenceID
				total.Reason = "prev_hash does not match preceding record hash"
				return total, nil
			}
			expected := ComputeHash(record.SequenceID, record.SubjectID, record.Actor,
				record.Action, record.Details, record.PrevHash)
			if record.Hash != expected {
				total.OK = false
				total.FirstBreakSeq = record.SequenceID
				total.Reason = "stored hash does not match recomputed hash"
				return total, nil
			}
			prevHash = record.Hash
		}

		cursor = page[len(page)-1].SequenceID
		if count > 0 {
			remaining -= len(page)
			if remaining <= 0 {
				return total, nil
			}
		}
	}
}
