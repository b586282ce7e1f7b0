package ledger

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ContentType identifies the kind of media behind a content item.
// Ordinals are part of the wire format and must never be renumbered.
type ContentType uint8

const (
	ContentTypePDF ContentType = iota
	ContentTypeVideo
	ContentTypeZip
	ContentTypeAudio
	ContentTypeImage
	ContentTypeYouTube
	ContentTypeTwitter
	ContentTypeNotion
	ContentTypeOther
)

var contentTypeNames = [...]string{
	ContentTypePDF:     "PDF",
	ContentTypeVideo:   "VIDEO",
	ContentTypeZip:     "ZIP",
	ContentTypeAudio:   "AUDIO",
	ContentTypeImage:   "IMAGE",
	ContentTypeYouTube: "YOUTUBE",
	ContentTypeTwitter: "TWITTER",
	ContentTypeNotion:  "NOTION",
	ContentTypeOther:   "OTHER",
}

// Valid reports whether t is one of the nine known content types.
func (t ContentType) Valid() bool {
	return int(t) < len(contentTypeNames)
}

func (t ContentType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("ContentType(%d)", uint8(t))
	}
	return contentTypeNames[t]
}

// ParseContentType accepts either a name ("video", "YOUTUBE") or an ordinal ("1").
func ParseContentType(s string) (ContentType, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		t := ContentType(n)
		if !t.Valid() {
			return 0, fmt.Errorf("unknown content type %q", s)
		}
		return t, nil
	}
	for i, name := range contentTypeNames {
		if strings.EqualFold(name, s) {
			return ContentType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown content type %q", s)
}

// ContentItem is a unit of gated media owned by a creator.
type ContentItem struct {
	ID            uint64
	Title         string
	Description   string
	ContentType   ContentType
	IPFSHash      string
	EmbedURL      string
	PreviewHash   string
	Price         *big.Int
	Creator       common.Address
	IsActive      bool
	CreatedAt     time.Time
	TotalEarnings *big.Int
	TotalSales    uint64
}

// Clone returns a deep copy of the content item.
func (c *ContentItem) Clone() *ContentItem {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Price = CopyAmount(c.Price)
	clone.TotalEarnings = CopyAmount(c.TotalEarnings)
	return &clone
}

// AccessGrant records that a buyer paid for a content item.
type AccessGrant struct {
	Buyer      common.Address
	ContentID  uint64
	AmountPaid *big.Int
	GrantedAt  time.Time
}

// CreatorAccount is the incrementally maintained per-creator state: the
// aggregates behind CreatorStats and the withdrawable balance.
type CreatorAccount struct {
	Creator          common.Address
	ActiveContent    uint64
	ActiveEarnings   *big.Int
	ActiveSales      uint64
	LifetimeEarnings *big.Int
	LifetimeSales    uint64
	Balance          *big.Int
	TotalWithdrawn   *big.Int
	LastWithdrawalAt time.Time // zero until the first withdrawal
}

// NewCreatorAccount returns an empty account for creator.
func NewCreatorAccount(creator common.Address) *CreatorAccount {
	return &CreatorAccount{
		Creator:          creator,
		ActiveEarnings:   new(big.Int),
		LifetimeEarnings: new(big.Int),
		Balance:          new(big.Int),
		TotalWithdrawn:   new(big.Int),
	}
}

// Clone returns a deep copy of the account.
func (a *CreatorAccount) Clone() *CreatorAccount {
	if a == nil {
		return nil
	}
	clone := *a
	clone.ActiveEarnings = CopyAmount(a.ActiveEarnings)
	clone.LifetimeEarnings = CopyAmount(a.LifetimeEarnings)
	clone.Balance = CopyAmount(a.Balance)
	clone.TotalWithdrawn = CopyAmount(a.TotalWithdrawn)
	return &clone
}

// Stats projects the account onto the public stats view.
func (a *CreatorAccount) Stats() CreatorStats {
	if a == nil {
		return ZeroStats()
	}
	return CreatorStats{
		TotalEarnings:    CopyAmount(a.ActiveEarnings),
		TotalSales:       a.ActiveSales,
		ActiveContent:    a.ActiveContent,
		LifetimeEarnings: CopyAmount(a.LifetimeEarnings),
	}
}

// CreatorStats is the aggregated view returned by getCreatorStats.
// TotalEarnings and TotalSales cover active content only; LifetimeEarnings
// covers every sale ever made and never decreases.
type CreatorStats struct {
	TotalEarnings    *big.Int
	TotalSales       uint64
	ActiveContent    uint64
	LifetimeEarnings *big.Int
}

// ZeroStats returns stats for a creator with no recorded activity.
func ZeroStats() CreatorStats {
	return CreatorStats{TotalEarnings: new(big.Int), LifetimeEarnings: new(big.Int)}
}

// Withdrawal is an entry in a creator's payout history.
type Withdrawal struct {
	Creator   common.Address
	Amount    *big.Int
	Reference string
	CreatedAt time.Time
}
