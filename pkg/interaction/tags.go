package interaction

// Well-known transaction tag names.
const (
	TagAppName       = "App-Name"
	TagAppVersion    = "App-Version"
	TagContract      = "Contract"
	TagInput         = "Input"
	TagContractSrc   = "Contract-Src"
	TagInitState     = "Init-State"
	TagInteractWrite = "Interact-Write"
	TagContentType   = "Content-Type"
	TagSDK           = "SDK"

	TagSequencerOwner   = "Sequencer-Owner"
	TagSequencerTxID    = "Sequencer-Tx-Id"
	TagSequencerSortKey = "Sequencer-Sort-Key"
)

// Well-known App-Name values.
const (
	AppNameAction   = "SmartWeaveAction"
	AppNameContract = "SmartWeaveContract"
	AppNameSource   = "SmartWeaveContractSource"
)

// NewTags builds a tag list from alternating name/value pairs.
// A trailing name without a value is ignored.
func NewTags(pairs ...string) []Tag {
	tags := make([]Tag, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		tags = append(tags, Tag{Name: pairs[i], Value: pairs[i+1]})
	}
	return tags
}
