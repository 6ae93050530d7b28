package chain

import (
	"context"
	"fmt"
	"log/slog"

	"eventrelay/internal/notify"
)

// domainEvent maps one raw chain event onto its normalized webhook
// event type. Payload lists the decoded argument names copied into the
// normalized payload; Required names the arguments whose absence makes
// the event malformed. Notify marks events that also go to the
// notification side channel.
type domainEvent struct {
	Name     string
	Type     string
	Payload  []string
	Required []string
	Notify   bool
}

// domainEvents is the full catalogue of chain events this service
// understands, grouped by contract family. New processors are added
// here without any change to subscribers: the delivery side treats
// event types as an open string namespace.
var domainEvents = []domainEvent{
	// BrainSafes core (users, profiles, roles)
	{Name: "UserProfileCreated", Type: "user.profile_created", Payload: []string{"userAddress", "name", "email", "ipfsProfile"}, Required: []string{"userAddress"}, Notify: true},
	{Name: "UserProfileUpdated", Type: "user.profile_updated", Payload: []string{"userAddress", "updatedFields"}, Required: []string{"userAddress"}},
	{Name: "RoleGranted", Type: "user.role_granted", Payload: []string{"userAddress", "role", "granter"}, Required: []string{"userAddress", "role"}},
	{Name: "RoleRevoked", Type: "user.role_revoked", Payload: []string{"userAddress", "role", "revoker"}, Required: []string{"userAddress", "role"}},

	// EDU token
	{Name: "Transfer", Type: "token.transfer", Payload: []string{"from", "to", "amount", "tokenAddress"}, Required: []string{"from", "to", "amount"}},
	{Name: "Mint", Type: "token.minted", Payload: []string{"to", "amount", "tokenAddress"}, Required: []string{"to", "amount"}},
	{Name: "Burn", Type: "token.burned", Payload: []string{"from", "amount", "tokenAddress"}, Required: []string{"from", "amount"}},
	{Name: "Approval", Type: "token.approval", Payload: []string{"owner", "spender", "amount", "tokenAddress"}, Required: []string{"owner", "spender"}},

	// Certificate NFT
	{Name: "CertificateIssued", Type: "certificate.issued", Payload: []string{"tokenId", "recipient", "issuer", "title", "description", "ipfsMetadata", "expiresAt"}, Required: []string{"tokenId", "recipient"}, Notify: true},
	{Name: "CertificateRevoked", Type: "certificate.revoked", Payload: []string{"tokenId", "revoker", "reason"}, Required: []string{"tokenId"}},
	{Name: "CertificateTransferred", Type: "certificate.transferred", Payload: []string{"tokenId", "from", "to"}, Required: []string{"tokenId", "from", "to"}},

	// Course NFT
	{Name: "CourseCreated", Type: "course.created", Payload: []string{"courseId", "instructor", "title", "description", "price", "duration", "maxStudents", "ipfsContent", "skills", "difficulty"}, Required: []string{"courseId", "instructor"}},
	{Name: "StudentEnrolled", Type: "course.enrolled", Payload: []string{"courseId", "student", "instructor", "enrollmentFee"}, Required: []string{"courseId", "student"}, Notify: true},
	{Name: "CourseCompleted", Type: "course.completed", Payload: []string{"courseId", "student", "score", "certificateIssued"}, Required: []string{"courseId", "student"}},

	// Job marketplace
	{Name: "JobPosted", Type: "marketplace.job_posted", Payload: []string{"jobId", "employer", "title", "company", "location", "salaryMax", "category"}, Required: []string{"jobId", "employer"}},
	{Name: "JobApplicationSubmitted", Type: "marketplace.application_submitted", Payload: []string{"applicationId", "jobId", "applicant", "aiMatchScore"}, Required: []string{"applicationId", "jobId", "applicant"}},
	{Name: "ApplicationStatusUpdated", Type: "marketplace.application_status_updated", Payload: []string{"applicationId", "oldStatus", "newStatus", "humanScore", "feedback"}, Required: []string{"applicationId"}},
	{Name: "HiringContractCreated", Type: "marketplace.hiring_contract_created", Payload: []string{"contractId", "jobId", "employer", "employee", "salary"}, Required: []string{"contractId", "jobId"}},
	{Name: "SuccessfulHire", Type: "marketplace.successful_hire", Payload: []string{"jobId", "employer", "employee"}, Required: []string{"jobId"}},

	// Scholarship manager
	{Name: "ScholarshipCreated", Type: "scholarship.created", Payload: []string{"scholarshipId", "title", "amount", "maxRecipients", "deadline"}, Required: []string{"scholarshipId"}},
	{Name: "ScholarshipAwarded", Type: "scholarship.awarded", Payload: []string{"scholarshipId", "recipient", "amount"}, Required: []string{"scholarshipId", "recipient"}},
	{Name: "ScholarshipExpired", Type: "scholarship.expired", Payload: []string{"scholarshipId"}, Required: []string{"scholarshipId"}},

	// Governance
	{Name: "ProposalCreated", Type: "governance.proposal_created", Payload: []string{"proposalId", "proposer", "title", "description"}, Required: []string{"proposalId", "proposer"}},
	{Name: "VoteCast", Type: "governance.vote_cast", Payload: []string{"proposalId", "voter", "support", "reason"}, Required: []string{"proposalId", "voter"}},
	{Name: "ProposalExecuted", Type: "governance.proposal_executed", Payload: []string{"proposalId", "executor"}, Required: []string{"proposalId"}},
	{Name: "ProposalCanceled", Type: "governance.proposal_canceled", Payload: []string{"proposalId", "canceler", "reason"}, Required: []string{"proposalId"}},

	// Cross-chain bridge
	{Name: "TransferInitiated", Type: "bridge.transfer_initiated", Payload: []string{"transferId", "sourceNetwork", "targetNetwork", "tokenAddress", "amount", "sender", "recipient"}, Required: []string{"transferId"}},
	{Name: "TransferCompleted", Type: "bridge.transfer_completed", Payload: []string{"transferId", "sourceNetwork", "targetNetwork", "tokenAddress", "amount", "recipient"}, Required: []string{"transferId"}},
	{Name: "TransferFailed", Type: "bridge.transfer_failed", Payload: []string{"transferId", "sourceNetwork", "targetNetwork", "reason"}, Required: []string{"transferId"}},
	{Name: "MessageSent", Type: "bridge.message_sent", Payload: []string{"messageId", "sourceNetwork", "targetNetwork", "message"}, Required: []string{"messageId"}},

	// AI oracle
	{Name: "PredictionUpdated", Type: "ai.prediction_updated", Payload: []string{"userAddress", "predictionType", "oldPrediction", "newPrediction", "confidence"}, Required: []string{"userAddress"}},
	{Name: "JobMatchCalculated", Type: "ai.job_match_calculated", Payload: []string{"jobId", "candidate", "matchScore", "matchingSkills", "missingSkills"}, Required: []string{"jobId", "candidate"}},
	{Name: "AIAnalysisCompleted", Type: "ai.analysis_completed", Payload: []string{"analysisId", "analysisType", "result", "confidence"}, Required: []string{"analysisId"}},
}

// RegisterDomainProcessors installs a processor for every catalogued
// chain event on the pipeline.
func RegisterDomainProcessors(p *Pipeline, sink EventSink, notifier notify.Notifier) {
	for _, event := range domainEvents {
		p.RegisterProcessor(event.Name, makeProcessor(event, sink, notifier))
	}
	slog.Info("Domain event processors registered", "count", len(domainEvents))
}

// makeProcessor builds the ProcessorFunc for one catalogue entry. It
// validates required arguments, copies the listed payload fields,
// appends the chain context, and publishes.
func makeProcessor(event domainEvent, sink EventSink, notifier notify.Notifier) ProcessorFunc {
	return func(ctx context.Context, data, metadata map[string]any) error {
		for _, field := range event.Required {
			if _, ok := data[field]; !ok {
				return fmt.Errorf("%s: missing required field %q", event.Name, field)
			}
		}

		payload := make(map[string]any, len(event.Payload)+3)
		for _, field := range event.Payload {
			if value, ok := data[field]; ok {
				payload[field] = value
			}
		}
		// Chain context rides in the payload as well, matching the
		// subscriber contract
		payload["timestamp"] = metadata["timestamp"]
		payload["txHash"] = metadata["txHash"]
		payload["blockNumber"] = metadata["blockNumber"]

		sink.SendEvent(ctx, event.Type, payload, metadata)

		if event.Notify && notifier != nil {
			if err := notifier.ProcessChainEvent(ctx, event.Type, payload, metadata); err != nil {
				// Best effort: a notification failure never fails the event
				slog.Error("Notification side channel failed",
					"event_type", event.Type,
					"error", err,
				)
			}
		}

		return nil
	}
}
