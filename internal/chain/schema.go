package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// eventCatalogueABI declares an explicit schema for every chain event
// in the catalogue. Argument names match the normalized payload field
// names, so a decoded log needs no remapping before processing, and
// malformed logs fail at decode time instead of inside a processor.
const eventCatalogueABI = `[
  {"type":"event","name":"UserProfileCreated","inputs":[{"name":"userAddress","type":"address","indexed":true},{"name":"name","type":"string"},{"name":"email","type":"string"},{"name":"ipfsProfile","type":"string"}]},
  {"type":"event","name":"UserProfileUpdated","inputs":[{"name":"userAddress","type":"address","indexed":true},{"name":"updatedFields","type":"string"}]},
  {"type":"event","name":"RoleGranted","inputs":[{"name":"userAddress","type":"address","indexed":true},{"name":"role","type":"bytes32","indexed":true},{"name":"granter","type":"address"}]},
  {"type":"event","name":"RoleRevoked","inputs":[{"name":"userAddress","type":"address","indexed":true},{"name":"role","type":"bytes32","indexed":true},{"name":"revoker","type":"address"}]},

  {"type":"event","name":"Transfer","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"amount","type":"uint256"},{"name":"tokenAddress","type":"address"}]},
  {"type":"event","name":"Mint","inputs":[{"name":"to","type":"address","indexed":true},{"name":"amount","type":"uint256"},{"name":"tokenAddress","type":"address"}]},
  {"type":"event","name":"Burn","inputs":[{"name":"from","type":"address","indexed":true},{"name":"amount","type":"uint256"},{"name":"tokenAddress","type":"address"}]},
  {"type":"event","name":"Approval","inputs":[{"name":"owner","type":"address","indexed":true},{"name":"spender","type":"address","indexed":true},{"name":"amount","type":"uint256"},{"name":"tokenAddress","type":"address"}]},

  {"type":"event","name":"CertificateIssued","inputs":[{"name":"tokenId","type":"uint256","indexed":true},{"name":"recipient","type":"address","indexed":true},{"name":"issuer","type":"address"},{"name":"title","type":"string"},{"name":"description","type":"string"},{"name":"ipfsMetadata","type":"string"},{"name":"expiresAt","type":"uint256"}]},
  {"type":"event","name":"CertificateRevoked","inputs":[{"name":"tokenId","type":"uint256","indexed":true},{"name":"revoker","type":"address"},{"name":"reason","type":"string"}]},
  {"type":"event","name":"CertificateTransferred","inputs":[{"name":"tokenId","type":"uint256","indexed":true},{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true}]},

  {"type":"event","name":"CourseCreated","inputs":[{"name":"courseId","type":"uint256","indexed":true},{"name":"instructor","type":"address","indexed":true},{"name":"title","type":"string"},{"name":"description","type":"string"},{"name":"price","type":"uint256"},{"name":"duration","type":"uint256"},{"name":"maxStudents","type":"uint256"},{"name":"ipfsContent","type":"string"},{"name":"skills","type":"string"},{"name":"difficulty","type":"string"}]},
  {"type":"event","name":"StudentEnrolled","inputs":[{"name":"courseId","type":"uint256","indexed":true},{"name":"student","type":"address","indexed":true},{"name":"instructor","type":"address"},{"name":"enrollmentFee","type":"uint256"}]},
  {"type":"event","name":"CourseCompleted","inputs":[{"name":"courseId","type":"uint256","indexed":true},{"name":"student","type":"address","indexed":true},{"name":"score","type":"uint256"},{"name":"certificateIssued","type":"bool"}]},

  {"type":"event","name":"JobPosted","inputs":[{"name":"jobId","type":"uint256","indexed":true},{"name":"employer","type":"address","indexed":true},{"name":"title","type":"string"},{"name":"company","type":"string"},{"name":"location","type":"string"},{"name":"salaryMax","type":"uint256"},{"name":"category","type":"string"}]},
  {"type":"event","name":"JobApplicationSubmitted","inputs":[{"name":"applicationId","type":"uint256","indexed":true},{"name":"jobId","type":"uint256","indexed":true},{"name":"applicant","type":"address","indexed":true},{"name":"aiMatchScore","type":"uint256"}]},
  {"type":"event","name":"ApplicationStatusUpdated","inputs":[{"name":"applicationId","type":"uint256","indexed":true},{"name":"oldStatus","type":"string"},{"name":"newStatus","type":"string"},{"name":"humanScore","type":"uint256"},{"name":"feedback","type":"string"}]},
  {"type":"event","name":"HiringContractCreated","inputs":[{"name":"contractId","type":"uint256","indexed":true},{"name":"jobId","type":"uint256","indexed":true},{"name":"employer","type":"address"},{"name":"employee","type":"address"},{"name":"salary","type":"uint256"}]},
  {"type":"event","name":"SuccessfulHire","inputs":[{"name":"jobId","type":"uint256","indexed":true},{"name":"employer","type":"address","indexed":true},{"name":"employee","type":"address","indexed":true}]},

  {"type":"event","name":"ScholarshipCreated","inputs":[{"name":"scholarshipId","type":"uint256","indexed":true},{"name":"title","type":"string"},{"name":"amount","type":"uint256"},{"name":"maxRecipients","type":"uint256"},{"name":"deadline","type":"uint256"}]},
  {"type":"event","name":"ScholarshipAwarded","inputs":[{"name":"scholarshipId","type":"uint256","indexed":true},{"name":"recipient","type":"address","indexed":true},{"name":"amount","type":"uint256"}]},
  {"type":"event","name":"ScholarshipExpired","inputs":[{"name":"scholarshipId","type":"uint256","indexed":true}]},

  {"type":"event","name":"ProposalCreated","inputs":[{"name":"proposalId","type":"uint256","indexed":true},{"name":"proposer","type":"address","indexed":true},{"name":"title","type":"string"},{"name":"description","type":"string"}]},
  {"type":"event","name":"VoteCast","inputs":[{"name":"proposalId","type":"uint256","indexed":true},{"name":"voter","type":"address","indexed":true},{"name":"support","type":"bool"},{"name":"reason","type":"string"}]},
  {"type":"event","name":"ProposalExecuted","inputs":[{"name":"proposalId","type":"uint256","indexed":true},{"name":"executor","type":"address"}]},
  {"type":"event","name":"ProposalCanceled","inputs":[{"name":"proposalId","type":"uint256","indexed":true},{"name":"canceler","type":"address"},{"name":"reason","type":"string"}]},

  {"type":"event","name":"TransferInitiated","inputs":[{"name":"transferId","type":"uint256","indexed":true},{"name":"sourceNetwork","type":"string"},{"name":"targetNetwork","type":"string"},{"name":"tokenAddress","type":"address"},{"name":"amount","type":"uint256"},{"name":"sender","type":"address"},{"name":"recipient","type":"address"}]},
  {"type":"event","name":"TransferCompleted","inputs":[{"name":"transferId","type":"uint256","indexed":true},{"name":"sourceNetwork","type":"string"},{"name":"targetNetwork","type":"string"},{"name":"tokenAddress","type":"address"},{"name":"amount","type":"uint256"},{"name":"recipient","type":"address"}]},
  {"type":"event","name":"TransferFailed","inputs":[{"name":"transferId","type":"uint256","indexed":true},{"name":"sourceNetwork","type":"string"},{"name":"targetNetwork","type":"string"},{"name":"reason","type":"string"}]},
  {"type":"event","name":"MessageSent","inputs":[{"name":"messageId","type":"uint256","indexed":true},{"name":"sourceNetwork","type":"string"},{"name":"targetNetwork","type":"string"},{"name":"message","type":"string"}]},

  {"type":"event","name":"PredictionUpdated","inputs":[{"name":"userAddress","type":"address","indexed":true},{"name":"predictionType","type":"string"},{"name":"oldPrediction","type":"string"},{"name":"newPrediction","type":"string"},{"name":"confidence","type":"uint256"}]},
  {"type":"event","name":"JobMatchCalculated","inputs":[{"name":"jobId","type":"uint256","indexed":true},{"name":"candidate","type":"address","indexed":true},{"name":"matchScore","type":"uint256"},{"name":"matchingSkills","type":"string"},{"name":"missingSkills","type":"string"}]},
  {"type":"event","name":"AIAnalysisCompleted","inputs":[{"name":"analysisId","type":"uint256","indexed":true},{"name":"analysisType","type":"string"},{"name":"result","type":"string"},{"name":"confidence","type":"uint256"}]}
]`

// Decoder turns raw EVM logs into (event name, argument map) pairs
// using the fixed event catalogue.
type Decoder struct {
	abi abi.ABI
}

// NewDecoder parses the event catalogue ABI.
func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(eventCatalogueABI))
	if err != nil {
		return nil, fmt.Errorf("parse event catalogue: %w", err)
	}
	return &Decoder{abi: parsed}, nil
}

// Topics returns the topic0 hash of every catalogued event, used to
// filter the chain subscription down to events we can decode.
func (d *Decoder) Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(d.abi.Events))
	for _, event := range d.abi.Events {
		topics = append(topics, event.ID)
	}
	return topics
}

// Decode resolves the event by its topic0 hash and unpacks both
// indexed and non-indexed arguments into a map keyed by argument name.
// Malformed logs fail here, before any processor runs.
func (d *Decoder) Decode(lg types.Log) (string, map[string]any, error) {
	if len(lg.Topics) == 0 {
		return "", nil, fmt.Errorf("log has no topics")
	}

	event, err := d.abi.EventByID(lg.Topics[0])
	if err != nil {
		return "", nil, fmt.Errorf("unknown event topic %s: %w", lg.Topics[0].Hex(), err)
	}

	indexed := indexedArguments(event.Inputs)
	if len(lg.Topics)-1 != len(indexed) {
		return "", nil, fmt.Errorf("%s: expected %d indexed topics, got %d",
			event.Name, len(indexed), len(lg.Topics)-1)
	}

	args := make(map[string]any)
	if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
		return "", nil, fmt.Errorf("%s: parse indexed topics: %w", event.Name, err)
	}
	if err := d.abi.UnpackIntoMap(args, event.Name, lg.Data); err != nil {
		return "", nil, fmt.Errorf("%s: unpack data: %w", event.Name, err)
	}

	return event.Name, normalizeArgs(args), nil
}

func indexedArguments(inputs abi.Arguments) abi.Arguments {
	var indexed abi.Arguments
	for _, input := range inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	return indexed
}

// normalizeArgs converts chain-native argument values into
// JSON-friendly forms: addresses and hashes become hex strings and
// big integers become decimal strings, matching the subscriber
// contract.
func normalizeArgs(args map[string]any) map[string]any {
	normalized := make(map[string]any, len(args))
	for name, value := range args {
		normalized[name] = normalizeValue(value)
	}
	return normalized
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case common.Address:
		return typed.Hex()
	case common.Hash:
		return typed.Hex()
	case *big.Int:
		if typed == nil {
			return nil
		}
		return typed.String()
	case [32]byte:
		return "0x" + hex.EncodeToString(typed[:])
	case []byte:
		return "0x" + hex.EncodeToString(typed)
	default:
		return typed
	}
}
