package domain

import (
	"errors"
	"slices"
)

var (
	ErrIndexOutOfRange = errors.New("queue index out of range")
)

type QueueItem struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	ThumbnailURL     string `json:"thumbnail,omitempty"`
	SourceURL        string `json:"url"`
	DurationLabel    string `json:"duration,omitempty"`
	Votes            int    `json:"votes"`
	Voters           []User `json:"voters"`
	ChannelAvatarURL string `json:"channelAvatar,omitempty"`
	ViewCount        int64  `json:"viewCount,omitempty"`
	IsTrending       bool   `json:"isTrending,omitempty"`
}

func (i QueueItem) HasVoter(username string) bool {
	return slices.ContainsFunc(i.Voters, func(u User) bool { return u.Username == username })
}

func (i QueueItem) clone() QueueItem {
	i.Voters = slices.Clone(i.Voters)
	if i.Voters == nil {
		i.Voters = []User{}
	}
	return i
}

// Queue is a vote-ranked list of candidate videos. A user's vote is exclusive:
// casting a new one retracts the previous one. Every mutation leaves the list
// sorted by votes, descending, ties keeping their prior order.
type Queue struct {
	list []QueueItem
}

func NewQueue(items []QueueItem) *Queue {
	q := &Queue{list: make([]QueueItem, 0, len(items))}
	for _, item := range items {
		item = item.clone()
		if item.Votes < 0 {
			item.Votes = 0
		}
		q.list = append(q.list, item)
	}

	return q
}

// Replace swaps the whole list for items, as received, without re-sorting.
func (q *Queue) Replace(items []QueueItem) {
	*q = *NewQueue(items)
}

// AsList returns a deep copy of the queue.
func (q *Queue) AsList() []QueueItem {
	out := make([]QueueItem, 0, len(q.list))
	for _, item := range q.list {
		out = append(out, item.clone())
	}

	return out
}

func (q *Queue) Length() int {
	return len(q.list)
}

func (q *Queue) IndexOf(id string) int {
	return slices.IndexFunc(q.list, func(i QueueItem) bool { return i.ID == id })
}

// retract removes voter's vote from every item except keep. It returns whether
// anything changed.
func (q *Queue) retract(username string, keep int) bool {
	changed := false
	for i := range q.list {
		if i == keep || !q.list[i].HasVoter(username) {
			continue
		}

		q.list[i].Voters = slices.DeleteFunc(q.list[i].Voters, func(u User) bool { return u.Username == username })
		q.list[i].Votes = max(q.list[i].Votes-1, 0)
		changed = true
	}

	return changed
}

func (q *Queue) sort() {
	slices.SortStableFunc(q.list, func(a, b QueueItem) int {
		return b.Votes - a.Votes
	})
}

// AddOrVote inserts candidate with voter's vote, or votes for the existing item
// with the same ID.
func (q *Queue) AddOrVote(candidate QueueItem, voter User) {
	idx := q.IndexOf(candidate.ID)
	q.retract(voter.Username, idx)

	if idx == -1 {
		item := candidate.clone()
		item.Votes = 1
		item.Voters = []User{voter}
		q.list = append(q.list, item)
	} else if !q.list[idx].HasVoter(voter.Username) {
		q.list[idx].Votes++
		q.list[idx].Voters = append(q.list[idx].Voters, voter)
	}

	q.sort()
}

// Vote moves voter's vote to the item at index. Voting again for the same item
// changes nothing.
func (q *Queue) Vote(index int, voter User) error {
	if index < 0 || index >= len(q.list) {
		return ErrIndexOutOfRange
	}

	q.retract(voter.Username, index)
	if !q.list[index].HasVoter(voter.Username) {
		q.list[index].Votes++
		q.list[index].Voters = append(q.list[index].Voters, voter)
	}

	q.sort()

	return nil
}

func (q *Queue) RemoveAt(index int) (QueueItem, error) {
	if index < 0 || index >= len(q.list) {
		return QueueItem{}, ErrIndexOutOfRange
	}

	removed := q.list[index]
	q.list = slices.Delete(q.list, index, index+1)

	return removed.clone(), nil
}

// PopMostVoted removes and returns the highest-voted item with at least one vote.
func (q *Queue) PopMostVoted() (QueueItem, bool) {
	best := -1
	for i, item := range q.list {
		if item.Votes > 0 && (best == -1 || item.Votes > q.list[best].Votes) {
			best = i
		}
	}

	if best == -1 {
		return QueueItem{}, false
	}

	item, _ := q.RemoveAt(best)
	return item, true
}
