package transaction

import "math/bits"

// EstimateSize returns the size of the signed record of tx, assuming a
// single 64-byte signature and no authorizer.
func EstimateSize(tx *Transaction) (int, error) {
	enc, err := tx.Encode()
	if err != nil {
		return 0, err
	}
	return len(enc) + signedOverhead, nil
}

// ComputeFee returns the fee for tx under sp. A flat fee is taken as is;
// otherwise the per-byte rate is applied to the estimated signed size. The
// result never drops below the minimum fee.
func ComputeFee(tx *Transaction, sp SuggestedParams) (uint64, error) {
	floor := sp.MinFee
	if floor == 0 {
		floor = MinFee
	}
	if sp.FlatFee {
		if sp.Fee < floor {
			return floor, nil
		}
		return sp.Fee, nil
	}

	// Size is measured without a fee so the result does not depend on a
	// previously assigned value.
	unfeed := *tx
	unfeed.Fee = 0
	size, err := EstimateSize(&unfeed)
	if err != nil {
		return 0, err
	}
	hi, fee := bits.Mul64(sp.Fee, uint64(size))
	if hi != 0 {
		return 0, invalid("per-byte fee %d overflows for a %d-byte transaction", sp.Fee, size)
	}
	if fee < floor {
		fee = floor
	}
	return fee, nil
}
