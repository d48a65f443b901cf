package lookup

import (
	"context"
	"log/slog"

	"github.com/bsv-blockchain/go-sdk/overlay"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/bsv-blockchain/go-sdk/transaction/template/pushdrop"

	"github.com/x402-network/go-x402-registry-services/pkg/utils"
)

// TopicManager decides which transaction outputs are admitted under the x402
// registry topic. Only well-formed x402 advertisement tokens are admitted:
// a PushDrop payload of at least four fields carrying the X402 identifier, a
// parseable identity key, a registrable URL and a valid category.
type TopicManager struct {
	logger *slog.Logger
}

// NewTopicManager creates a new x402 topic manager instance. A nil logger
// falls back to the default slog logger.
func NewTopicManager(logger *slog.Logger) *TopicManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TopicManager{logger: logger}
}

// IdentifyAdmissibleOutputs implements the engine.TopicManager interface. It
// parses the BEEF transaction and admits every output that carries a valid
// x402 advertisement token.
func (tm *TopicManager) IdentifyAdmissibleOutputs(_ context.Context, beef []byte, previousCoins map[uint32]*transaction.TransactionOutput) (overlay.AdmittanceInstructions, error) {
	outputsToAdmit := []uint32{}

	parsedTransaction, err := transaction.NewTransactionFromBEEF(beef)
	if err != nil {
		if len(previousCoins) == 0 {
			tm.logger.Warn("failed to parse BEEF transaction", "error", err)
		}
		return overlay.AdmittanceInstructions{
			OutputsToAdmit: outputsToAdmit,
			CoinsToRetain:  []uint32{},
		}, nil
	}

	for i, output := range parsedTransaction.Outputs {
		if !isAdmissibleAdvertisement(output.LockingScript) {
			continue
		}
		if i >= 0 && i <= 0xFFFFFFFF {
			outputsToAdmit = append(outputsToAdmit, uint32(i))
		}
	}

	if len(outputsToAdmit) > 0 {
		tm.logger.Info("admitted x402 advertisement outputs", "count", len(outputsToAdmit), "txid", parsedTransaction.TxID())
	}
	if len(previousCoins) > 0 {
		tm.logger.Info("consumed previous x402 advertisement coins", "count", len(previousCoins))
	}

	return overlay.AdmittanceInstructions{
		OutputsToAdmit: outputsToAdmit,
		CoinsToRetain:  []uint32{},
	}, nil
}

// isAdmissibleAdvertisement reports whether a locking script carries a valid
// x402 advertisement token. Outputs that fail any check are skipped silently;
// mixed transactions are common and not an error.
func isAdmissibleAdvertisement(lockingScript *script.Script) bool {
	result := pushdrop.Decode(lockingScript)
	if result == nil {
		return false // It's common for other outputs to be invalid; no need to log an error here
	}

	if len(result.Fields) < 4 {
		return false
	}

	if utils.UTFBytesToString(result.Fields[0]) != Identifier {
		return false
	}

	if _, err := ec.ParsePubKey(result.Fields[1]); err != nil {
		return false
	}

	if !utils.IsRegistrableURL(utils.UTFBytesToString(result.Fields[2])) {
		return false
	}

	category := utils.UTFBytesToString(result.Fields[3])
	if category != "" && !utils.IsValidCategoryName(category) {
		return false
	}

	return true
}

// IdentifyNeededInputs implements the engine.TopicManager interface.
// Advertisement admissibility is decided from the output alone, so no inputs
// are needed for validation.
func (tm *TopicManager) IdentifyNeededInputs(_ context.Context, _ []byte) ([]*transaction.Outpoint, error) {
	return []*transaction.Outpoint{}, nil
}

// GetDocumentation implements the engine.TopicManager interface.
func (tm *TopicManager) GetDocumentation() string {
	return TopicManagerDocumentation
}

// GetMetaData implements the engine.TopicManager interface.
func (tm *TopicManager) GetMetaData() *overlay.MetaData {
	return &overlay.MetaData{
		Name:        "x402 Topic Manager",
		Description: "Admits x402 endpoint advertisement tokens to the registry overlay topic",
	}
}
