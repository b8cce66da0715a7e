package services

import (
	"errors"
	"time"

	"github.com/QueueCorpJP/App-Exit-sub002/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ThreadService owns conversation identity, the immutable two-party
// participant set and read-marker bookkeeping.
type ThreadService struct {
	db *gorm.DB
}

func NewThreadService(db *gorm.DB) *ThreadService {
	return &ThreadService{db: db}
}

// ThreadSummary is the denormalized read model for the thread list: one
// batched round trip resolves the counterparty, last message preview and
// unread count for every thread, instead of a detail fetch per thread.
type ThreadSummary struct {
	Thread      models.Thread   `json:"thread"`
	Other       models.User     `json:"other"`
	LastMessage *models.Message `json:"lastMessage,omitempty"`
	UnreadCount int64           `json:"unreadCount"`
}

// CreateOrGetThread returns the existing thread between the two users for
// the listing, or creates one. The participant pair is treated as
// unordered: a lookup with the roles reversed resolves to the same row,
// and udx_thread_pair (unique over the sorted pair plus the coalesced
// listing id) forces concurrent first-contact requests, role-reversed or
// listing-less included, to converge on a single thread.
func (s *ThreadService) CreateOrGetThread(buyerID, sellerID uint, listingID *uint) (*models.Thread, error) {
	if buyerID == 0 || sellerID == 0 || buyerID == sellerID {
		return nil, ErrValidation
	}

	if existing, err := s.findPair(buyerID, sellerID, listingID); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	thread := models.Thread{BuyerID: buyerID, SellerID: sellerID, ListingID: listingID}
	err := s.db.Create(&thread).Error
	if err == nil {
		return &thread, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, err
	}
	return s.findPair(buyerID, sellerID, listingID)
}

func (s *ThreadService) findPair(a, b uint, listingID *uint) (*models.Thread, error) {
	q := s.db.Where(
		"(buyer_id = ? AND seller_id = ?) OR (buyer_id = ? AND seller_id = ?)",
		a, b, b, a,
	)
	if listingID != nil {
		q = q.Where("listing_id = ?", *listingID)
	} else {
		q = q.Where("listing_id IS NULL")
	}
	var existing models.Thread
	if err := q.First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

// GetThread loads a thread for a participant. Outsiders receive
// ErrNotParticipant, which routes serve as not-found.
func (s *ThreadService) GetThread(threadID, requesterID uint) (*models.Thread, error) {
	var thread models.Thread
	if err := s.db.First(&thread, threadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !thread.HasParticipant(requesterID) {
		return nil, ErrNotParticipant
	}
	return &thread, nil
}

// ListThreadsForUser returns the user's threads most-recent-activity
// first, with the counterparty, last message and unread count resolved in
// three batched queries total.
func (s *ThreadService) ListThreadsForUser(userID uint) ([]ThreadSummary, error) {
	var threads []models.Thread
	if err := s.db.
		Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Order("last_message_at DESC NULLS LAST, created_at DESC").
		Find(&threads).Error; err != nil {
		return nil, err
	}
	if len(threads) == 0 {
		return []ThreadSummary{}, nil
	}

	threadIDs := make([]uint, 0, len(threads))
	otherIDs := make([]uint, 0, len(threads))
	for _, t := range threads {
		threadIDs = append(threadIDs, t.ID)
		otherIDs = append(otherIDs, t.OtherParticipant(userID))
	}

	var others []models.User
	if err := s.db.Where("id IN ?", otherIDs).Find(&others).Error; err != nil {
		return nil, err
	}
	othersByID := make(map[uint]models.User, len(others))
	for _, u := range others {
		othersByID[u.ID] = u
	}

	var lastMessages []models.Message
	if err := s.db.
		Where("(thread_id, seq) IN (SELECT thread_id, MAX(seq) FROM messages WHERE thread_id IN ? GROUP BY thread_id)", threadIDs).
		Find(&lastMessages).Error; err != nil {
		return nil, err
	}
	lastByThread := make(map[uint]models.Message, len(lastMessages))
	for _, m := range lastMessages {
		lastByThread[m.ThreadID] = m
	}

	type unreadRow struct {
		ThreadID uint
		N        int64
	}
	var unread []unreadRow
	if err := s.db.Raw(`
		SELECT m.thread_id AS thread_id, COUNT(*) AS n
		FROM messages m
		JOIN threads t ON t.id = m.thread_id
		WHERE m.thread_id IN ?
		  AND m.sender_id <> ? AND m.sender_id <> 0
		  AND m.seq > (CASE WHEN t.buyer_id = ? THEN t.buyer_last_read_seq ELSE t.seller_last_read_seq END)
		GROUP BY m.thread_id
	`, threadIDs, userID, userID).Scan(&unread).Error; err != nil {
		return nil, err
	}
	unreadByThread := make(map[uint]int64, len(unread))
	for _, r := range unread {
		unreadByThread[r.ThreadID] = r.N
	}

	summaries := make([]ThreadSummary, 0, len(threads))
	for _, t := range threads {
		summary := ThreadSummary{
			Thread:      t,
			Other:       othersByID[t.OtherParticipant(userID)],
			UnreadCount: unreadByThread[t.ID],
		}
		if m, ok := lastByThread[t.ID]; ok {
			masked := m.Tombstone()
			summary.LastMessage = &masked
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// MarkRead advances the participant's read marker up to uptoSeq. Monotonic
// and idempotent: a stale or repeated request is a no-op, and the marker
// never exceeds the thread's current last sequence.
func (s *ThreadService) MarkRead(threadID, userID uint, uptoSeq uint64) error {
	thread, err := s.GetThread(threadID, userID)
	if err != nil {
		return err
	}

	column := "seller_last_read_seq"
	if userID == thread.BuyerID {
		column = "buyer_last_read_seq"
	}

	return s.db.Model(&models.Thread{}).
		Where("id = ? AND "+column+" < ?", threadID, uptoSeq).
		Update(column, gorm.Expr("LEAST(?, last_seq)", uptoSeq)).Error
}

// lockThread loads the thread with a row-level lock. Every sequence
// assignment in the thread goes through this, which linearizes concurrent
// senders.
func lockThread(tx *gorm.DB, threadID uint) (*models.Thread, error) {
	var thread models.Thread
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&thread, threadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &thread, nil
}

// appendMessage writes the next entry in the thread. The caller must hold
// the thread row lock (lockThread) inside tx.
func appendMessage(tx *gorm.DB, thread *models.Thread, senderID uint, kind models.MessageKind, body, imageURL string, contractID *uint) (*models.Message, error) {
	seq := thread.LastSeq + 1
	msg := models.Message{
		ThreadID:   thread.ID,
		Seq:        seq,
		SenderID:   senderID,
		Kind:       kind,
		Body:       body,
		ImageURL:   imageURL,
		ContractID: contractID,
	}
	if err := tx.Create(&msg).Error; err != nil {
		return nil, err
	}

	now := time.Now()
	if err := tx.Model(thread).Updates(map[string]interface{}{
		"last_seq":        seq,
		"last_message_at": now,
	}).Error; err != nil {
		return nil, err
	}
	thread.LastSeq = seq
	thread.LastMessageAt = &now
	return &msg, nil
}
