package timeline

import (
	"hash/fnv"
	"math/rand"
	"sort"
	"strconv"

	"github.com/airwavetv/airwave/internal/models"
)

// orderCandidates applies the schedule item's playback order to its
// materialized content list. The input is never mutated. Shuffles are
// seeded from (channel, schedule item, epoch) so repeated builds over
// the same epoch see the same permutation.
func orderCandidates(si *models.ScheduleItem, candidates []*models.MediaItem, channelID models.ULID, epoch int) []*models.MediaItem {
	switch si.PlaybackOrder {
	case models.PlaybackOrderShuffled:
		return shuffled(candidates, shuffleSeed(channelID, si.ID, epoch))

	case models.PlaybackOrderShuffleInOrder:
		return shuffleInOrder(candidates, shuffleSeed(channelID, si.ID, epoch))

	case models.PlaybackOrderSeasonEpisode:
		out := clone(candidates)
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].SeasonNumber != out[j].SeasonNumber {
				return out[i].SeasonNumber < out[j].SeasonNumber
			}
			return out[i].EpisodeNumber < out[j].EpisodeNumber
		})
		return out

	default:
		// chronological and random keep repository order; random picks
		// by index instead of permuting.
		return candidates
	}
}

// randomIndex picks a deterministic pseudo-random index for playback
// order "random". Unlike shuffled, consecutive picks may repeat.
func randomIndex(channelID models.ULID, itemID models.ULID, epoch, offset, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(channelID.String()))
	h.Write([]byte(itemID.String()))
	writeInt(h, epoch)
	writeInt(h, offset)
	return int(h.Sum64() % uint64(n))
}

// shuffleSeed derives the permutation seed for one (channel, item, epoch).
func shuffleSeed(channelID models.ULID, itemID models.ULID, epoch int) int64 {
	h := fnv.New64a()
	h.Write([]byte(channelID.String()))
	h.Write([]byte(itemID.String()))
	writeInt(h, epoch)
	return int64(h.Sum64())
}

func writeInt(h interface{ Write([]byte) (int, error) }, v int) {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	h.Write(buf[:])
}

// shuffled returns a seeded Fisher-Yates permutation of the candidates.
func shuffled(candidates []*models.MediaItem, seed int64) []*models.MediaItem {
	out := clone(candidates)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// shuffleInOrder shuffles groups of items while preserving order inside
// each group. Items sharing a show title form a group; items without one
// are their own group. Useful for rotating between shows without
// scrambling episode order.
func shuffleInOrder(candidates []*models.MediaItem, seed int64) []*models.MediaItem {
	var groupKeys []string
	groups := make(map[string][]*models.MediaItem)
	for i, item := range candidates {
		key := item.ShowTitle
		if key == "" {
			key = "\x00" + item.ID.String() + strconv.Itoa(i)
		}
		if _, seen := groups[key]; !seen {
			groupKeys = append(groupKeys, key)
		}
		groups[key] = append(groups[key], item)
	}

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(groupKeys), func(i, j int) {
		groupKeys[i], groupKeys[j] = groupKeys[j], groupKeys[i]
	})

	out := make([]*models.MediaItem, 0, len(candidates))
	for _, key := range groupKeys {
		out = append(out, groups[key]...)
	}
	return out
}

func clone(items []*models.MediaItem) []*models.MediaItem {
	out := make([]*models.MediaItem, len(items))
	copy(out, items)
	return out
}
