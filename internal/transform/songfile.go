package transform

import (
	"playmart/internal/model"
)

// SongRows projects the records of one song-metadata file into Song and
// Artist tuples. Files are normally single-record, but multi-record files
// load fine.
//
// A record missing song_id or artist_id fails the whole file: the caller
// reports it and skips the file rather than loading a half-formed dimension
// row.
func SongRows(recs []RawRecord) ([]model.Song, []model.Artist, error) {
	songs := make([]model.Song, 0, len(recs))
	artists := make([]model.Artist, 0, len(recs))
	for _, r := range recs {
		s, a, err := model.SongFromRecord(r.Fields)
		if err != nil {
			return nil, nil, err
		}
		songs = append(songs, s)
		artists = append(artists, a)
	}
	return songs, artists, nil
}
