package store

import "time"

type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DefaultPageType selects what a profile's root URL shows.
type DefaultPageType string

const (
	DefaultPageNone       DefaultPageType = ""
	DefaultPageRcmd       DefaultPageType = "rcmd"
	DefaultPageLink       DefaultPageType = "link"
	DefaultPageCollection DefaultPageType = "collection"
	DefaultPageCustom     DefaultPageType = "custom"
)

func (t DefaultPageType) Valid() bool {
	switch t {
	case DefaultPageNone, DefaultPageRcmd, DefaultPageLink, DefaultPageCollection, DefaultPageCustom:
		return true
	default:
		return false
	}
}

type Profile struct {
	ID              string
	AuthUserID      string
	Handle          string
	FirstName       string
	LastName        string
	Bio             string
	Location        string
	Interests       []string
	Tags            []string
	DefaultPageID   *string
	DefaultPageType DefaultPageType
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (p Profile) DisplayName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	case p.LastName != "":
		return p.LastName
	default:
		return p.Handle
	}
}

type SocialAccount struct {
	ID        string
	ProfileID string
	Provider  string
	Username  string
	URL       string
	CreatedAt time.Time
}

type Page struct {
	ID        string
	ProfileID string
	Name      string
	Slug      string
	IsDefault bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Rcmd struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	URL         string
	ImageURL    string
	Type        string
	CreatedAt   time.Time
}

type Link struct {
	ID          string
	OwnerID     string
	Title       string
	URL         string
	Description string
	FaviconURL  string
	CreatedAt   time.Time
}

type Collection struct {
	ID          string
	OwnerID     string
	ShortID     string
	Name        string
	Description string
	IsPublic    bool
	CreatedAt   time.Time
	Items       []CollectionItem
}

type CollectionItem struct {
	ID           string
	CollectionID string
	ItemType     string // 'rcmd' or 'link'
	OrderIndex   int
	Rcmd         *Rcmd
	Link         *Link
}

// BlockRow is a placement row joined with whichever payload table matches
// its type. Payload columns for other types are nil.
type BlockRow struct {
	ID           string
	ProfileID    string
	PageID       string
	Type         string
	DisplayOrder int
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Text *string

	ImageURL     *string
	ImageWidth   int
	ImageHeight  int
	ImageCaption string

	Link       *Link
	Rcmd       *Rcmd
	Collection *Collection
}

// NewBlock describes a placement and its payload to be written in one
// transaction. Exactly one payload field is set, matching Type.
type NewBlock struct {
	ProfileID string
	PageID    string
	Type      string

	Text  *string
	Image *ImagePayload

	LinkID       string
	RcmdID       string
	CollectionID string
}

type ImagePayload struct {
	URL     string
	Width   int
	Height  int
	Caption string
}

// PayloadPatch changes a block's payload without touching its placement.
type PayloadPatch struct {
	Text         *string
	ImageURL     *string
	ImageWidth   *int
	ImageHeight  *int
	ImageCaption *string
	LinkID       *string
	RcmdID       *string
	CollectionID *string
}
