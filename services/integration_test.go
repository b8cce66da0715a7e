package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/QueueCorpJP/App-Exit-sub002/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testDB connects to the database named by TEST_DATABASE_URL and resets
// the schema. Tests that need Postgres semantics (row locks, partial
// unique indexes) skip when it is not set.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := db.AutoMigrate(
		&models.User{}, &models.Listing{}, &models.Thread{}, &models.Message{},
		&models.ContractDocument{}, &models.ContractSignature{}, &models.NDAAcceptance{},
		&models.PaymentIntent{}, &models.WebhookEvent{}, &models.AuditLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS udx_thread_pair
		ON threads (LEAST(buyer_id, seller_id), GREATEST(buyer_id, seller_id), COALESCE(listing_id, 0))
		WHERE deleted_at IS NULL`)
	db.Exec(`TRUNCATE users, listings, threads, messages, contract_documents,
		contract_signatures, nda_acceptances, payment_intents, webhook_events,
		audit_logs RESTART IDENTITY CASCADE`)
	return db
}

type fakeProcessor struct {
	mu       sync.Mutex
	fail     bool
	created  int
	canceled []string
}

func (f *fakeProcessor) CreateIntent(ctx context.Context, req ProcessorIntentRequest) (*ProcessorIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("%w: stub outage", ErrProcessorUnavailable)
	}
	f.created++
	return &ProcessorIntent{
		IntentID:     fmt.Sprintf("pi_%s_%d", req.Reference, f.created),
		ClientSecret: "sec_" + req.Reference,
	}, nil
}

func (f *fakeProcessor) CancelIntent(ctx context.Context, intentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, intentID)
	return nil
}

// seedDeal creates a buyer, a seller and a published listing.
func seedDeal(t *testing.T, db *gorm.DB, secret bool) (buyer, seller models.User, listing models.Listing) {
	t.Helper()
	buyer = models.User{DisplayName: "Buyer"}
	seller = models.User{DisplayName: "Seller"}
	if err := db.Create(&buyer).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Create(&seller).Error; err != nil {
		t.Fatal(err)
	}
	listing = models.Listing{
		SellerID:                  seller.ID,
		Title:                     "Subscription box service",
		Description:               "MRR 1.2M JPY, 900 subscribers",
		Price:                     5000000,
		Currency:                  "JPY",
		IsSecret:                  secret,
		RequiresNDA:               secret,
		RequiresTransferAgreement: true,
		Status:                    models.ListingStatusPublished,
	}
	if err := db.Create(&listing).Error; err != nil {
		t.Fatal(err)
	}
	return buyer, seller, listing
}

func TestCreateOrGetThreadIdempotent(t *testing.T) {
	db := testDB(t)
	svc := NewThreadService(db)
	buyer, seller, listing := seedDeal(t, db, false)

	first, err := svc.CreateOrGetThread(buyer.ID, seller.ID, &listing.ID)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := svc.CreateOrGetThread(buyer.ID, seller.ID, &listing.ID)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same thread, got %d and %d", first.ID, second.ID)
	}

	// The pair is unordered: the reversed roles resolve to the same thread.
	reversed, err := svc.CreateOrGetThread(seller.ID, buyer.ID, &listing.ID)
	if err != nil {
		t.Fatalf("reversed lookup: %v", err)
	}
	if reversed.ID != first.ID {
		t.Fatalf("reversed pair created a second thread: %d vs %d", reversed.ID, first.ID)
	}

	// The index itself enforces unordered uniqueness, so even a writer
	// that skips the lookup cannot slip a role-reversed duplicate in.
	dup := models.Thread{BuyerID: seller.ID, SellerID: buyer.ID, ListingID: &listing.ID}
	if err := db.Create(&dup).Error; !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("expected duplicate-key on reversed insert, got %v", err)
	}

	// Listing-less threads share one slot per pair too; NULLs must not
	// make them pairwise distinct.
	adHoc, err := svc.CreateOrGetThread(buyer.ID, seller.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	nullDup := models.Thread{BuyerID: buyer.ID, SellerID: seller.ID}
	if err := db.Create(&nullDup).Error; !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("expected duplicate-key on second listing-less insert, got %v", err)
	}
	adHocAgain, err := svc.CreateOrGetThread(seller.ID, buyer.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if adHocAgain.ID != adHoc.ID {
		t.Fatalf("listing-less pair created a second thread: %d vs %d", adHocAgain.ID, adHoc.ID)
	}
}

func TestGetThreadHidesFromOutsiders(t *testing.T) {
	db := testDB(t)
	svc := NewThreadService(db)
	buyer, seller, listing := seedDeal(t, db, false)
	outsider := models.User{DisplayName: "Outsider"}
	db.Create(&outsider)

	thread, err := svc.CreateOrGetThread(buyer.ID, seller.ID, &listing.ID)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.GetThread(thread.ID, outsider.ID); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestMessageSequencesAreGapless(t *testing.T) {
	db := testDB(t)
	threads := NewThreadService(db)
	messages := NewMessageService(db)
	buyer, seller, listing := seedDeal(t, db, false)

	thread, err := threads.CreateOrGetThread(buyer.ID, seller.ID, &listing.ID)
	if err != nil {
		t.Fatal(err)
	}

	const perSender = 10
	var wg sync.WaitGroup
	for _, sender := range []uint{buyer.ID, seller.ID} {
		wg.Add(1)
		go func(senderID uint) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if _, err := messages.Append(thread.ID, senderID, AppendInput{
					Kind: models.MessageKindText,
					Body: fmt.Sprintf("message %d from %d", i, senderID),
				}); err != nil {
					t.Errorf("append: %v", err)
					return
				}
			}
		}(sender)
	}
	wg.Wait()

	got, err := messages.List(thread.ID, buyer.ID, 100, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2*perSender {
		t.Fatalf("expected %d messages, got %d", 2*perSender, len(got))
	}
	for i, m := range got {
		if m.Seq != uint64(i+1) {
			t.Fatalf("sequence gap: position %d has seq %d", i, m.Seq)
		}
	}
}

func TestSoftDeleteLeavesTombstone(t *testing.T) {
	db := testDB(t)
	threads := NewThreadService(db)
	messages := NewMessageService(db)
	buyer, seller, listing := seedDeal(t, db, false)

	thread, _ := threads.CreateOrGetThread(buyer.ID, seller.ID, &listing.ID)
	msg, err := messages.Append(thread.ID, buyer.ID, AppendInput{Kind: models.MessageKindText, Body: "retracted offer"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := messages.SoftDelete(msg.ID, seller.ID); !errors.Is(err, ErrNotSender) {
		t.Fatalf("counterparty delete should fail with ErrNotSender, got %v", err)
	}
	if _, err := messages.SoftDelete(msg.ID, buyer.ID); err != nil {
		t.Fatalf("sender delete: %v", err)
	}
	// Repeating is a no-op.
	if _, err := messages.SoftDelete(msg.ID, buyer.ID); err != nil {
		t.Fatalf("repeated delete: %v", err)
	}

	got, err := messages.List(thread.ID, seller.ID, 10, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].IsDeleted || got[0].Body != "" {
		t.Fatalf("expected masked tombstone at seq 1, got %+v", got)
	}
}

func TestMarkReadIsMonotonic(t *testing.T) {
	db := testDB(t)
	threads := NewThreadService(db)
	messages := NewMessageService(db)
	buyer, seller, listing := seedDeal(t, db, false)

	thread, _ := threads.CreateOrGetThread(buyer.ID, seller.ID, &listing.ID)
	for i := 0; i < 3; i++ {
		if _, err := messages.Append(thread.ID, seller.ID, AppendInput{Kind: models.MessageKindText, Body: "ping"}); err != nil {
			t.Fatal(err)
		}
	}

	if err := threads.MarkRead(thread.ID, buyer.ID, 3); err != nil {
		t.Fatal(err)
	}
	// A stale replay must not move the marker backwards.
	if err := threads.MarkRead(thread.ID, buyer.ID, 1); err != nil {
		t.Fatal(err)
	}

	got, err := threads.GetThread(thread.ID, buyer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.BuyerLastReadSeq != 3 {
		t.Fatalf("expected read marker 3, got %d", got.BuyerLastReadSeq)
	}
}

func TestContractProposeAndSignFlow(t *testing.T) {
	db := testDB(t)
	threads := NewThreadService(db)
	messages := NewMessageService(db)
	contracts := NewContractService(db)
	nda := NewNDALedger(db)
	buyer, seller, listing := seedDeal(t, db, true)

	thread, _ := threads.CreateOrGetThread(buyer.ID, seller.ID, &listing.ID)

	doc, err := contracts.Propose(thread.ID, seller.ID, models.ContractTypeNDA, "Standard NDA terms.", "key-nda-1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != models.ContractStatusPending {
		t.Fatalf("expected pending, got %s", doc.Status)
	}

	// Retried proposal with the same key returns the same document.
	again, err := contracts.Propose(thread.ID, seller.ID, models.ContractTypeNDA, "Standard NDA terms.", "key-nda-1")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != doc.ID {
		t.Fatalf("proposal retry created duplicate: %d vs %d", again.ID, doc.ID)
	}

	// The seller is not a required NDA signer; signing twice is harmless.
	if _, err := contracts.Sign(doc.ID, seller.ID, "Seller S."); err != nil {
		t.Fatal(err)
	}
	if _, err := contracts.Sign(doc.ID, seller.ID, "Seller S."); err != nil {
		t.Fatal(err)
	}
	mid, _ := contracts.Get(doc.ID, buyer.ID)
	if mid.Status != models.ContractStatusPending {
		t.Fatalf("buyer has not signed, expected pending, got %s", mid.Status)
	}

	// The buyer's signature completes the NDA on its own.
	signed, err := contracts.Sign(doc.ID, buyer.ID, "Buyer B.")
	if err != nil {
		t.Fatal(err)
	}
	if signed.Status != models.ContractStatusSigned || signed.SignedAt == nil {
		t.Fatalf("expected signed document, got %+v", signed)
	}

	// The signed NDA feeds the acceptance ledger and unlocks the listing.
	accepted, err := nda.HasAccepted(buyer.ID, listing.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !accepted {
		t.Fatal("signed NDA should record an acceptance")
	}
	view, err := nda.ListingView(listing.ID, buyer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, redacted := view.(models.RedactedListing); redacted {
		t.Fatal("listing should be visible after NDA")
	}

	// Proposal and completion both left messages in the log.
	log, err := messages.List(thread.ID, buyer.ID, 10, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 2 {
		t.Fatalf("expected contract_ref + system message, got %d entries", len(log))
	}
	if log[0].Kind != models.MessageKindContractRef || log[1].Kind != models.MessageKindSystem {
		t.Fatalf("unexpected message kinds: %s, %s", log[0].Kind, log[1].Kind)
	}

	// Signing a terminal document is refused.
	if _, err := contracts.Sign(doc.ID, seller.ID, "Seller S."); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestContractRejectKeepsHistory(t *testing.T) {
	db := testDB(t)
	threads := NewThreadService(db)
	contracts := NewContractService(db)
	buyer, seller, listing := seedDeal(t, db, false)

	thread, _ := threads.CreateOrGetThread(buyer.ID, seller.ID, &listing.ID)
	doc, err := contracts.Propose(thread.ID, seller.ID, models.ContractTypeTransfer, "Transfer terms.", "key-tr-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := contracts.Sign(doc.ID, seller.ID, "Seller S."); err != nil {
		t.Fatal(err)
	}

	rejected, err := contracts.Reject(doc.ID, buyer.ID, "price term unacceptable")
	if err != nil {
		t.Fatal(err)
	}
	if rejected.Status != models.ContractStatusRejected || rejected.RejectedAt == nil {
		t.Fatalf("expected rejected document, got %+v", rejected)
	}

	// The document and its collected signature stay on record.
	kept, err := contracts.Get(doc.ID, buyer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(kept.Signatures) != 1 {
		t.Fatalf("signatures should survive rejection, got %d", len(kept.Signatures))
	}

	if _, err := contracts.Reject(doc.ID, buyer.ID, "again"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal on double reject, got %v", err)
	}
}

func signTransfer(t *testing.T, db *gorm.DB, thread *models.Thread, buyerID, sellerID uint) {
	t.Helper()
	contracts := NewContractService(db)
	doc, err := contracts.Propose(thread.ID, sellerID, models.ContractTypeTransfer, "Transfer terms.", fmt.Sprintf("key-tr-%d", thread.ID))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := contracts.Sign(doc.ID, buyerID, "B"); err != nil {
		t.Fatal(err)
	}
	if _, err := contracts.Sign(doc.ID, sellerID, "S"); err != nil {
		t.Fatal(err)
	}
}

func TestCheckoutRequiresSignedTransfer(t *testing.T) {
	db := testDB(t)
	threads := NewThreadService(db)
	payments := NewPaymentBridge(db, &fakeProcessor{}, 1000)
	buyer, seller, listing := seedDeal(t, db, false)

	thread, _ := threads.CreateOrGetThread(buyer.ID, seller.ID, &listing.ID)

	if _, err := payments.InitiateCheckout(context.Background(), thread.ID, buyer.ID, listing.Price); !errors.Is(err, ErrContractNotSigned) {
		t.Fatalf("expected ErrContractNotSigned, got %v", err)
	}
	if _, err := payments.InitiateCheckout(context.Background(), thread.ID, seller.ID, listing.Price); !errors.Is(err, ErrNotBuyer) {
		t.Fatalf("seller checkout should fail with ErrNotBuyer, got %v", err)
	}

	signTransfer(t, db, thread, buyer.ID, seller.ID)

	result, err := payments.InitiateCheckout(context.Background(), thread.ID, buyer.ID, listing.Price)
	if err != nil {
		t.Fatalf("checkout after signing: %v", err)
	}
	if result.Intent.Fee != listing.Price/10 {
		t.Fatalf("expected 10%% fee, got %d", result.Intent.Fee)
	}
	if result.ClientSecret == "" {
		t.Fatal("expected a client secret")
	}
}

func TestSingleActiveIntentPerThread(t *testing.T) {
	db := testDB(t)
	threads := NewThreadService(db)
	payments := NewPaymentBridge(db, &fakeProcessor{}, 1000)
	buyer, seller, listing := seedDeal(t, db, false)

	thread, _ := threads.CreateOrGetThread(buyer.ID, seller.ID, &listing.ID)
	signTransfer(t, db, thread, buyer.ID, seller.ID)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = payments.InitiateCheckout(context.Background(), thread.ID, buyer.ID, listing.Price)
		}(i)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrIntentAlreadyActive):
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflict != 1 {
		t.Fatalf("expected exactly one winner, got ok=%d conflict=%d", ok, conflict)
	}
}

func TestProcessorOutageReleasesSlot(t *testing.T) {
	db := testDB(t)
	threads := NewThreadService(db)
	proc := &fakeProcessor{fail: true}
	payments := NewPaymentBridge(db, proc, 1000)
	buyer, seller, listing := seedDeal(t, db, false)

	thread, _ := threads.CreateOrGetThread(buyer.ID, seller.ID, &listing.ID)
	signTransfer(t, db, thread, buyer.ID, seller.ID)

	if _, err := payments.InitiateCheckout(context.Background(), thread.ID, buyer.ID, listing.Price); !errors.Is(err, ErrProcessorUnavailable) {
		t.Fatalf("expected ErrProcessorUnavailable, got %v", err)
	}

	// The failed registration released the slot, so a retry can proceed.
	proc.fail = false
	if _, err := payments.InitiateCheckout(context.Background(), thread.ID, buyer.ID, listing.Price); err != nil {
		t.Fatalf("retry after outage: %v", err)
	}
}

func TestHandleCompletionExactlyOnce(t *testing.T) {
	db := testDB(t)
	threads := NewThreadService(db)
	messages := NewMessageService(db)
	payments := NewPaymentBridge(db, &fakeProcessor{}, 1000)
	buyer, seller, listing := seedDeal(t, db, false)

	thread, _ := threads.CreateOrGetThread(buyer.ID, seller.ID, &listing.ID)
	signTransfer(t, db, thread, buyer.ID, seller.ID)

	result, err := payments.InitiateCheckout(context.Background(), thread.ID, buyer.ID, listing.Price)
	if err != nil {
		t.Fatal(err)
	}

	event := CompletionEvent{
		Provider:    "payment",
		EventID:     "evt_success_1",
		EventType:   "payment_intent.succeeded",
		ExternalRef: result.Intent.ExternalRef,
		Outcome:     models.PaymentIntentSucceeded,
		Amount:      listing.Price,
		Payload:     "{}",
	}

	first, err := payments.HandleCompletion(event)
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != models.PaymentIntentSucceeded || first.CompletedAt == nil {
		t.Fatalf("expected succeeded intent, got %+v", first)
	}

	// Redelivery of the same event converges without side effects.
	second, err := payments.HandleCompletion(event)
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != models.PaymentIntentSucceeded {
		t.Fatalf("redelivery changed status to %s", second.Status)
	}

	// Same outcome under a new event id hits the terminal no-op path.
	event.EventID = "evt_success_1_retry"
	if _, err := payments.HandleCompletion(event); err != nil {
		t.Fatal(err)
	}

	var systemCount int64
	db.Model(&models.Message{}).
		Where("thread_id = ? AND sender_id = ?", thread.ID, models.SystemSenderID).
		Count(&systemCount)
	if systemCount != 1 {
		t.Fatalf("expected exactly one system message, got %d", systemCount)
	}

	var sold models.Listing
	db.First(&sold, listing.ID)
	if sold.Status != models.ListingStatusSold {
		t.Fatalf("listing should be sold, got %s", sold.Status)
	}

	// The completion note is readable by both parties.
	log, err := messages.List(thread.ID, seller.ID, 100, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	last := log[len(log)-1]
	if !last.IsSystem() || last.Kind != models.MessageKindSystem {
		t.Fatalf("expected trailing system message, got %+v", last)
	}
}

func TestFailedCompletionAllowsRestart(t *testing.T) {
	db := testDB(t)
	threads := NewThreadService(db)
	payments := NewPaymentBridge(db, &fakeProcessor{}, 1000)
	buyer, seller, listing := seedDeal(t, db, false)

	thread, _ := threads.CreateOrGetThread(buyer.ID, seller.ID, &listing.ID)
	signTransfer(t, db, thread, buyer.ID, seller.ID)

	result, err := payments.InitiateCheckout(context.Background(), thread.ID, buyer.ID, listing.Price)
	if err != nil {
		t.Fatal(err)
	}

	failed, err := payments.HandleCompletion(CompletionEvent{
		Provider:    "payment",
		EventID:     "evt_fail_1",
		EventType:   "payment_intent.failed",
		ExternalRef: result.Intent.ExternalRef,
		Outcome:     models.PaymentIntentFailed,
		Payload:     "{}",
	})
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != models.PaymentIntentFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}

	// The slot is free again.
	if _, err := payments.InitiateCheckout(context.Background(), thread.ID, buyer.ID, listing.Price); err != nil {
		t.Fatalf("restart after failure: %v", err)
	}
}

func TestCancelCheckoutIdempotent(t *testing.T) {
	db := testDB(t)
	threads := NewThreadService(db)
	proc := &fakeProcessor{}
	payments := NewPaymentBridge(db, proc, 1000)
	buyer, seller, listing := seedDeal(t, db, false)

	thread, _ := threads.CreateOrGetThread(buyer.ID, seller.ID, &listing.ID)
	signTransfer(t, db, thread, buyer.ID, seller.ID)

	if _, err := payments.CancelCheckout(context.Background(), thread.ID, buyer.ID); !errors.Is(err, ErrNoActiveIntent) {
		t.Fatalf("expected ErrNoActiveIntent with nothing open, got %v", err)
	}

	if _, err := payments.InitiateCheckout(context.Background(), thread.ID, buyer.ID, listing.Price); err != nil {
		t.Fatal(err)
	}

	canceled, err := payments.CancelCheckout(context.Background(), thread.ID, buyer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if canceled.Status != models.PaymentIntentCanceled {
		t.Fatalf("expected canceled, got %s", canceled.Status)
	}

	// Cancelling again converges on the same state.
	again, err := payments.CancelCheckout(context.Background(), thread.ID, buyer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != models.PaymentIntentCanceled {
		t.Fatalf("expected canceled on repeat, got %s", again.Status)
	}
	if len(proc.canceled) == 0 {
		t.Fatal("processor should have been told to cancel")
	}
}

func TestAmountMismatchIsRejected(t *testing.T) {
	db := testDB(t)
	threads := NewThreadService(db)
	payments := NewPaymentBridge(db, &fakeProcessor{}, 1000)
	buyer, seller, listing := seedDeal(t, db, false)

	thread, _ := threads.CreateOrGetThread(buyer.ID, seller.ID, &listing.ID)
	signTransfer(t, db, thread, buyer.ID, seller.ID)

	result, err := payments.InitiateCheckout(context.Background(), thread.ID, buyer.ID, listing.Price)
	if err != nil {
		t.Fatal(err)
	}

	_, err = payments.HandleCompletion(CompletionEvent{
		Provider:    "payment",
		EventID:     "evt_bad_amount",
		EventType:   "payment_intent.succeeded",
		ExternalRef: result.Intent.ExternalRef,
		Outcome:     models.PaymentIntentSucceeded,
		Amount:      listing.Price - 1,
		Payload:     "{}",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for amount mismatch, got %v", err)
	}

	// The intent must remain unresolved.
	var intent models.PaymentIntent
	db.Where("thread_id = ?", thread.ID).Order("id DESC").First(&intent)
	if intent.Resolved() {
		t.Fatalf("mismatched completion must not resolve the intent, got %s", intent.Status)
	}

	// The rejected event stays on record with its error for support.
	var evt models.WebhookEvent
	if err := db.Where("provider_event_id = ?", "evt_bad_amount").First(&evt).Error; err != nil {
		t.Fatalf("mismatch event should be persisted: %v", err)
	}
	if evt.ProcessingError == "" {
		t.Fatal("mismatch event should carry a processing error")
	}

	// A corrected completion under a fresh event id still goes through.
	fixed, err := payments.HandleCompletion(CompletionEvent{
		Provider:    "payment",
		EventID:     "evt_good_amount",
		EventType:   "payment_intent.succeeded",
		ExternalRef: result.Intent.ExternalRef,
		Outcome:     models.PaymentIntentSucceeded,
		Amount:      listing.Price,
		Payload:     "{}",
	})
	if err != nil {
		t.Fatal(err)
	}
	if fixed.Status != models.PaymentIntentSucceeded {
		t.Fatalf("corrected completion should resolve the intent, got %s", fixed.Status)
	}
}

func TestFailedDeliveryCanBeRedelivered(t *testing.T) {
	db := testDB(t)
	threads := NewThreadService(db)
	payments := NewPaymentBridge(db, &fakeProcessor{}, 1000)
	buyer, seller, listing := seedDeal(t, db, false)

	thread, _ := threads.CreateOrGetThread(buyer.ID, seller.ID, &listing.ID)
	signTransfer(t, db, thread, buyer.ID, seller.ID)

	event := CompletionEvent{
		Provider:    "payment",
		EventID:     "evt_early_1",
		EventType:   "payment_intent.succeeded",
		ExternalRef: "pi_not_yet_created",
		Outcome:     models.PaymentIntentSucceeded,
		Amount:      listing.Price,
		Payload:     "{}",
	}

	// Delivery arriving before the intent exists fails to apply.
	if _, err := payments.HandleCompletion(event); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown ref, got %v", err)
	}

	// The failed delivery must leave no event record, or the redelivery
	// below would be swallowed as a duplicate with nothing applied.
	var orphaned int64
	db.Model(&models.WebhookEvent{}).Where("provider_event_id = ?", event.EventID).Count(&orphaned)
	if orphaned != 0 {
		t.Fatalf("failed delivery left %d event records", orphaned)
	}

	result, err := payments.InitiateCheckout(context.Background(), thread.ID, buyer.ID, listing.Price)
	if err != nil {
		t.Fatal(err)
	}
	db.Model(&models.PaymentIntent{}).
		Where("id = ?", result.Intent.ID).
		Update("external_ref", event.ExternalRef)

	// The processor redelivers the same event id; it must apply now.
	applied, err := payments.HandleCompletion(event)
	if err != nil {
		t.Fatal(err)
	}
	if applied.Status != models.PaymentIntentSucceeded {
		t.Fatalf("redelivery should resolve the intent, got %s", applied.Status)
	}
}

func TestDealStateEndToEnd(t *testing.T) {
	db := testDB(t)
	proc := &fakeProcessor{}
	wf := NewWorkflow(db, proc, 1000)
	buyer, seller, listing := seedDeal(t, db, true)

	thread, err := wf.Threads.CreateOrGetThread(buyer.ID, seller.ID, &listing.ID)
	if err != nil {
		t.Fatal(err)
	}

	assertStage := func(want DealStage) {
		t.Helper()
		state, err := wf.DealState(thread.ID, buyer.ID)
		if err != nil {
			t.Fatal(err)
		}
		if state.Stage != want {
			t.Fatalf("expected stage %q, got %q", want, state.Stage)
		}
	}

	assertStage(StageNegotiating)

	ndaDoc, err := wf.Contracts.Propose(thread.ID, seller.ID, models.ContractTypeNDA, "NDA terms.", "e2e-nda")
	if err != nil {
		t.Fatal(err)
	}
	assertStage(StageNDAPending)

	if _, err := wf.Contracts.Sign(ndaDoc.ID, buyer.ID, "B"); err != nil {
		t.Fatal(err)
	}
	assertStage(StageNDASigned)

	trDoc, err := wf.Contracts.Propose(thread.ID, seller.ID, models.ContractTypeTransfer, "Transfer terms.", "e2e-tr")
	if err != nil {
		t.Fatal(err)
	}
	assertStage(StageContractPending)

	wf.Contracts.Sign(trDoc.ID, buyer.ID, "B")
	if _, err := wf.Contracts.Sign(trDoc.ID, seller.ID, "S"); err != nil {
		t.Fatal(err)
	}
	assertStage(StageContractSigned)

	result, err := wf.Payments.InitiateCheckout(context.Background(), thread.ID, buyer.ID, listing.Price)
	if err != nil {
		t.Fatal(err)
	}
	assertStage(StagePaymentPending)

	if _, err := wf.Payments.HandleCompletion(CompletionEvent{
		Provider:    "payment",
		EventID:     "e2e-success",
		EventType:   "payment_intent.succeeded",
		ExternalRef: result.Intent.ExternalRef,
		Outcome:     models.PaymentIntentSucceeded,
		Amount:      listing.Price,
		Payload:     "{}",
	}); err != nil {
		t.Fatal(err)
	}
	assertStage(StageCompleted)
}
