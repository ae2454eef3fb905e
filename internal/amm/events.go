package amm

import "pairLedger/internal/dex"

func (p *Pair) emit(event string, args ...interface{}) error {
	pairABI, err := dex.PairABI()
	if err != nil {
		return err
	}
	log, err := dex.EncodeLog(pairABI, event, p.address, args...)
	if err != nil {
		return err
	}
	p.env.AddLog(log)
	return nil
}
