package transaction

// Type is the transaction type tag carried in the "type" field.
type Type string

const (
	// Payment moves native units between accounts.
	Payment Type = "pay"
	// AssetTransfer moves asset units, opts in to an asset, or claws back.
	AssetTransfer Type = "axfer"
	// AssetConfig creates, reconfigures or destroys an asset.
	AssetConfig Type = "acfg"
	// AssetFreeze freezes or unfreezes an account's asset holding.
	AssetFreeze Type = "afrz"
	// ApplicationCall creates or invokes an application.
	ApplicationCall Type = "appl"
	// KeyRegistration registers or deregisters participation keys.
	KeyRegistration Type = "keyreg"
)

// Types lists every supported type tag.
var Types = []Type{Payment, AssetTransfer, AssetConfig, AssetFreeze, ApplicationCall, KeyRegistration}

// OnComplete is the action an application call performs after evaluation.
type OnComplete uint64

const (
	NoOp OnComplete = iota
	OptIn
	CloseOut
	ClearState
	UpdateApplication
	DeleteApplication
)

var onCompleteNames = map[string]OnComplete{
	"noop":   NoOp,
	"optin":  OptIn,
	"close":  CloseOut,
	"clear":  ClearState,
	"update": UpdateApplication,
	"delete": DeleteApplication,
}

const (
	// MinFee is the fee floor used when suggested params do not carry one.
	MinFee = 1000
	// MaxTxnLife is the longest allowed validity window, in rounds.
	MaxTxnLife = 1000
	// MaxNoteSize bounds the note field.
	MaxNoteSize = 1024
	// LeaseSize is the exact size of a lease.
	LeaseSize = 32
	// MaxGroupSize bounds the number of transactions in an atomic group.
	MaxGroupSize = 16
	// MaxAppArgs bounds the number of application call arguments.
	MaxAppArgs = 16
	// MaxAppTotalArgLen bounds the combined size of application call arguments.
	MaxAppTotalArgLen = 2048
	// MaxAppTxnReferences bounds accounts + foreign apps + foreign assets.
	MaxAppTxnReferences = 8
	// MaxAssetDecimals bounds asset display precision.
	MaxAssetDecimals = 19
	// MaxExtraAppProgramPages bounds extra program pages on creation.
	MaxExtraAppProgramPages = 3

	// signedOverhead is the size of the signed envelope around an unsigned
	// encoding when the signature is 64 bytes: map header, "sig" and "txn"
	// keys, and the bin8 header of the signature.
	signedOverhead = 1 + 4 + 2 + 64 + 4
)

var (
	// TxTag is the domain-separation tag prepended to an unsigned encoding
	// before it is hashed or signed.
	TxTag = []byte("TX")
	// GroupTag is the domain-separation tag for group id computation.
	GroupTag = []byte("TG")
)
