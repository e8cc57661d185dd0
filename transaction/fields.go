package transaction

import (
	"errors"

	"custodyledger_go/address"
	"custodyledger_go/canonical"
)

// PaymentFields moves native units from the sender to the receiver,
// optionally closing the sender's remaining balance to CloseRemainderTo.
type PaymentFields struct {
	Receiver         address.Address
	Amount           uint64
	CloseRemainderTo address.Address
}

func (*PaymentFields) Type() Type { return Payment }

func (f *PaymentFields) encode(m *canonical.Map) {
	m.PutFixed("rcv", f.Receiver[:])
	m.PutUint("amt", f.Amount)
	m.PutFixed("close", f.CloseRemainderTo[:])
}

func (f *PaymentFields) decode(m *canonical.Map) (err error) {
	if f.Amount, err = m.Uint("amt"); err != nil {
		return err
	}
	return errors.Join(m.Fixed("rcv", f.Receiver[:]), m.Fixed("close", f.CloseRemainderTo[:]))
}

func (f *PaymentFields) validate() error {
	if f.Receiver.IsZero() && f.CloseRemainderTo.IsZero() {
		return invalid("payment receiver is required")
	}
	return nil
}

// AssetTransferFields moves asset units. A transfer of zero units to oneself
// opts in; a non-zero AssetSender makes it a clawback.
type AssetTransferFields struct {
	AssetID       uint64
	Amount        uint64
	AssetSender   address.Address
	AssetReceiver address.Address
	AssetCloseTo  address.Address
}

func (*AssetTransferFields) Type() Type { return AssetTransfer }

func (f *AssetTransferFields) encode(m *canonical.Map) {
	m.PutUint("xaid", f.AssetID)
	m.PutUint("aamt", f.Amount)
	m.PutFixed("asnd", f.AssetSender[:])
	m.PutFixed("arcv", f.AssetReceiver[:])
	m.PutFixed("aclose", f.AssetCloseTo[:])
}

func (f *AssetTransferFields) decode(m *canonical.Map) (err error) {
	if f.AssetID, err = m.Uint("xaid"); err != nil {
		return err
	}
	if f.Amount, err = m.Uint("aamt"); err != nil {
		return err
	}
	return errors.Join(
		m.Fixed("asnd", f.AssetSender[:]),
		m.Fixed("arcv", f.AssetReceiver[:]),
		m.Fixed("aclose", f.AssetCloseTo[:]),
	)
}

func (f *AssetTransferFields) validate() error {
	if f.AssetID == 0 {
		return invalid("asset transfer requires an asset id")
	}
	if f.AssetReceiver.IsZero() && f.AssetCloseTo.IsZero() {
		return invalid("asset transfer receiver is required")
	}
	return nil
}

// AssetParams describes an asset at creation or reconfiguration.
type AssetParams struct {
	Total         uint64
	Decimals      uint32
	DefaultFrozen bool
	UnitName      string
	AssetName     string
	URL           string
	MetadataHash  [32]byte
	Manager       address.Address
	Reserve       address.Address
	Freeze        address.Address
	Clawback      address.Address
}

func (p *AssetParams) toMap() *canonical.Map {
	m := canonical.NewMap()
	m.PutUint("t", p.Total)
	m.PutUint("dc", uint64(p.Decimals))
	m.PutBool("df", p.DefaultFrozen)
	m.PutString("un", p.UnitName)
	m.PutString("an", p.AssetName)
	m.PutString("au", p.URL)
	m.PutFixed("am", p.MetadataHash[:])
	m.PutFixed("m", p.Manager[:])
	m.PutFixed("r", p.Reserve[:])
	m.PutFixed("f", p.Freeze[:])
	m.PutFixed("c", p.Clawback[:])
	return m
}

func (p *AssetParams) fromMap(m *canonical.Map) (err error) {
	if p.Total, err = m.Uint("t"); err != nil {
		return err
	}
	dc, err := m.Uint("dc")
	if err != nil {
		return err
	}
	p.Decimals = uint32(dc)
	if p.DefaultFrozen, err = m.Bool("df"); err != nil {
		return err
	}
	if p.UnitName, err = m.String("un"); err != nil {
		return err
	}
	if p.AssetName, err = m.String("an"); err != nil {
		return err
	}
	if p.URL, err = m.String("au"); err != nil {
		return err
	}
	return errors.Join(
		m.Fixed("am", p.MetadataHash[:]),
		m.Fixed("m", p.Manager[:]),
		m.Fixed("r", p.Reserve[:]),
		m.Fixed("f", p.Freeze[:]),
		m.Fixed("c", p.Clawback[:]),
	)
}

// AssetConfigFields creates (AssetID zero), reconfigures, or destroys (empty
// params) an asset.
type AssetConfigFields struct {
	AssetID uint64
	Params  AssetParams
}

func (*AssetConfigFields) Type() Type { return AssetConfig }

func (f *AssetConfigFields) encode(m *canonical.Map) {
	m.PutUint("caid", f.AssetID)
	m.PutMap("apar", f.Params.toMap())
}

func (f *AssetConfigFields) decode(m *canonical.Map) (err error) {
	if f.AssetID, err = m.Uint("caid"); err != nil {
		return err
	}
	apar, err := m.Map("apar")
	if err != nil {
		return err
	}
	return f.Params.fromMap(apar)
}

func (f *AssetConfigFields) validate() error {
	p := f.Params
	if f.AssetID == 0 && p.Total == 0 {
		return invalid("asset creation requires a non-zero total")
	}
	if p.Decimals > MaxAssetDecimals {
		return invalid("asset decimals %d exceed %d", p.Decimals, MaxAssetDecimals)
	}
	if len(p.UnitName) > 8 {
		return invalid("asset unit name longer than 8 bytes")
	}
	if len(p.AssetName) > 32 {
		return invalid("asset name longer than 32 bytes")
	}
	if len(p.URL) > 96 {
		return invalid("asset url longer than 96 bytes")
	}
	return nil
}

// AssetFreezeFields sets the frozen flag of Account's holding of AssetID.
type AssetFreezeFields struct {
	AssetID uint64
	Account address.Address
	Frozen  bool
}

func (*AssetFreezeFields) Type() Type { return AssetFreeze }

func (f *AssetFreezeFields) encode(m *canonical.Map) {
	m.PutUint("faid", f.AssetID)
	m.PutFixed("fadd", f.Account[:])
	m.PutBool("afrz", f.Frozen)
}

func (f *AssetFreezeFields) decode(m *canonical.Map) (err error) {
	if f.AssetID, err = m.Uint("faid"); err != nil {
		return err
	}
	if f.Frozen, err = m.Bool("afrz"); err != nil {
		return err
	}
	return m.Fixed("fadd", f.Account[:])
}

func (f *AssetFreezeFields) validate() error {
	if f.AssetID == 0 {
		return invalid("asset freeze requires an asset id")
	}
	if f.Account.IsZero() {
		return invalid("asset freeze requires a target account")
	}
	return nil
}

// StateSchema bounds an application's key/value storage.
type StateSchema struct {
	NumUint      uint64
	NumByteSlice uint64
}

func (s StateSchema) toMap() *canonical.Map {
	m := canonical.NewMap()
	m.PutUint("nui", s.NumUint)
	m.PutUint("nbs", s.NumByteSlice)
	return m
}

func (s *StateSchema) fromMap(m *canonical.Map) (err error) {
	if s.NumUint, err = m.Uint("nui"); err != nil {
		return err
	}
	s.NumByteSlice, err = m.Uint("nbs")
	return err
}

func (s StateSchema) isZero() bool {
	return s.NumUint == 0 && s.NumByteSlice == 0
}

// AppCallFields creates (AppID zero) or invokes an application.
type AppCallFields struct {
	AppID           uint64
	OnComplete      OnComplete
	Args            [][]byte
	Accounts        []address.Address
	ForeignApps     []uint64
	ForeignAssets   []uint64
	ApprovalProgram []byte
	ClearProgram    []byte
	GlobalSchema    StateSchema
	LocalSchema     StateSchema
	ExtraPages      uint32
}

func (*AppCallFields) Type() Type { return ApplicationCall }

func (f *AppCallFields) encode(m *canonical.Map) {
	m.PutUint("apid", f.AppID)
	m.PutUint("apan", uint64(f.OnComplete))
	m.PutBytesList("apaa", f.Args)
	accounts := make([][]byte, len(f.Accounts))
	for i := range f.Accounts {
		accounts[i] = f.Accounts[i][:]
	}
	m.PutBytesList("apat", accounts)
	m.PutUintList("apfa", f.ForeignApps)
	m.PutUintList("apas", f.ForeignAssets)
	m.PutBytes("apap", f.ApprovalProgram)
	m.PutBytes("apsu", f.ClearProgram)
	m.PutMap("apgs", f.GlobalSchema.toMap())
	m.PutMap("apls", f.LocalSchema.toMap())
	m.PutUint("apep", uint64(f.ExtraPages))
}

func (f *AppCallFields) decode(m *canonical.Map) (err error) {
	if f.AppID, err = m.Uint("apid"); err != nil {
		return err
	}
	oc, err := m.Uint("apan")
	if err != nil {
		return err
	}
	f.OnComplete = OnComplete(oc)
	if f.Args, err = m.BytesList("apaa"); err != nil {
		return err
	}
	accounts, err := m.BytesList("apat")
	if err != nil {
		return err
	}
	f.Accounts = nil
	for _, raw := range accounts {
		a, err := address.FromPublicKey(raw)
		if err != nil {
			return err
		}
		f.Accounts = append(f.Accounts, a)
	}
	if f.ForeignApps, err = m.UintList("apfa"); err != nil {
		return err
	}
	if f.ForeignAssets, err = m.UintList("apas"); err != nil {
		return err
	}
	if f.ApprovalProgram, err = m.Bytes("apap"); err != nil {
		return err
	}
	if f.ClearProgram, err = m.Bytes("apsu"); err != nil {
		return err
	}
	gs, err := m.Map("apgs")
	if err != nil {
		return err
	}
	ls, err := m.Map("apls")
	if err != nil {
		return err
	}
	if err := errors.Join(f.GlobalSchema.fromMap(gs), f.LocalSchema.fromMap(ls)); err != nil {
		return err
	}
	ep, err := m.Uint("apep")
	f.ExtraPages = uint32(ep)
	return err
}

func (f *AppCallFields) validate() error {
	if f.OnComplete > DeleteApplication {
		return invalid("unsupported on-complete action %d", f.OnComplete)
	}
	creating := f.AppID == 0
	if creating {
		if len(f.ApprovalProgram) == 0 || len(f.ClearProgram) == 0 {
			return invalid("application creation requires approval and clear programs")
		}
		if f.OnComplete == CloseOut || f.OnComplete == ClearState || f.OnComplete == DeleteApplication {
			return invalid("on-complete action %d is not allowed on creation", f.OnComplete)
		}
	} else {
		if (len(f.ApprovalProgram) > 0 || len(f.ClearProgram) > 0) && f.OnComplete != UpdateApplication {
			return invalid("programs may only be set on creation or update")
		}
		if !f.GlobalSchema.isZero() || !f.LocalSchema.isZero() {
			return invalid("state schema may only be set on creation")
		}
		if f.ExtraPages != 0 {
			return invalid("extra program pages may only be set on creation")
		}
	}
	if f.ExtraPages > MaxExtraAppProgramPages {
		return invalid("extra program pages %d exceed %d", f.ExtraPages, MaxExtraAppProgramPages)
	}
	if len(f.Args) > MaxAppArgs {
		return invalid("%d application arguments exceed %d", len(f.Args), MaxAppArgs)
	}
	total := 0
	for _, a := range f.Args {
		total += len(a)
	}
	if total > MaxAppTotalArgLen {
		return invalid("application arguments total %d bytes, limit is %d", total, MaxAppTotalArgLen)
	}
	if refs := len(f.Accounts) + len(f.ForeignApps) + len(f.ForeignAssets); refs > MaxAppTxnReferences {
		return invalid("%d application references exceed %d", refs, MaxAppTxnReferences)
	}
	return nil
}

// KeyRegFields registers participation keys (online), clears them
// (offline, all fields empty), or marks the account non-participating.
type KeyRegFields struct {
	VotePK           [32]byte
	SelectionPK      [32]byte
	StateProofPK     [64]byte
	VoteFirst        uint64
	VoteLast         uint64
	VoteKeyDilution  uint64
	NonParticipation bool
}

func (*KeyRegFields) Type() Type { return KeyRegistration }

func (f *KeyRegFields) encode(m *canonical.Map) {
	m.PutFixed("votekey", f.VotePK[:])
	m.PutFixed("selkey", f.SelectionPK[:])
	m.PutFixed("sprfkey", f.StateProofPK[:])
	m.PutUint("votefst", f.VoteFirst)
	m.PutUint("votelst", f.VoteLast)
	m.PutUint("votekd", f.VoteKeyDilution)
	m.PutBool("nonpart", f.NonParticipation)
}

func (f *KeyRegFields) decode(m *canonical.Map) (err error) {
	if f.VoteFirst, err = m.Uint("votefst"); err != nil {
		return err
	}
	if f.VoteLast, err = m.Uint("votelst"); err != nil {
		return err
	}
	if f.VoteKeyDilution, err = m.Uint("votekd"); err != nil {
		return err
	}
	if f.NonParticipation, err = m.Bool("nonpart"); err != nil {
		return err
	}
	return errors.Join(
		m.Fixed("votekey", f.VotePK[:]),
		m.Fixed("selkey", f.SelectionPK[:]),
		m.Fixed("sprfkey", f.StateProofPK[:]),
	)
}

func (f *KeyRegFields) validate() error {
	online := f.VotePK != [32]byte{} || f.SelectionPK != [32]byte{} || f.VoteLast != 0
	if f.NonParticipation && online {
		return invalid("non-participating registration must not carry keys")
	}
	if !online {
		return nil
	}
	if f.VotePK == [32]byte{} || f.SelectionPK == [32]byte{} {
		return invalid("online registration requires vote and selection keys")
	}
	if f.VoteLast <= f.VoteFirst {
		return invalid("vote last %d must follow vote first %d", f.VoteLast, f.VoteFirst)
	}
	if f.VoteKeyDilution == 0 {
		return invalid("online registration requires a key dilution")
	}
	return nil
}
