package mangadex

import (
	"bytes"
	"encoding/json"
)

// localized is a locale-keyed string map. The API serializes an empty map as
// [] so both shapes are accepted.
type localized map[string]string

func (l *localized) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("[]")) {
		*l = localized{}
		return nil
	}

	var values map[string]string
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return err
	}
	*l = values
	return nil
}

type relationship struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes *struct {
		FileName string `json:"fileName"`
	} `json:"attributes"`
}

type tagRecord struct {
	ID         string `json:"id"`
	Attributes struct {
		Name localized `json:"name"`
	} `json:"attributes"`
}

type mangaAttributes struct {
	Title       localized   `json:"title"`
	Description localized   `json:"description"`
	Year        *int        `json:"year"`
	Status      *string     `json:"status"`
	Tags        []tagRecord `json:"tags"`
}

type mangaRecord struct {
	ID            string           `json:"id"`
	Type          string           `json:"type"`
	Attributes    *mangaAttributes `json:"attributes"`
	Relationships []relationship   `json:"relationships"`
}

// mangaListResponse keeps records raw so one bad record can be skipped
// without failing the page.
type mangaListResponse struct {
	Result string            `json:"result"`
	Data   []json.RawMessage `json:"data"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
	Total  int               `json:"total"`
}

type mangaEntityResponse struct {
	Result string          `json:"result"`
	Data   json.RawMessage `json:"data"`
}

type chapterRecord struct {
	ID         string `json:"id"`
	Attributes struct {
		Title     *string `json:"title"`
		Chapter   *string `json:"chapter"`
		Volume    *string `json:"volume"`
		Pages     *int    `json:"pages"`
		PublishAt *string `json:"publishAt"`
	} `json:"attributes"`
}

type chapterFeedResponse struct {
	Result string          `json:"result"`
	Data   []chapterRecord `json:"data"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
	Total  int             `json:"total"`
}

type atHomeResponse struct {
	Result  string `json:"result"`
	BaseURL string `json:"baseUrl"`
	Chapter struct {
		Hash      string   `json:"hash"`
		Data      []string `json:"data"`
		DataSaver []string `json:"dataSaver"`
	} `json:"chapter"`
}

type coverListResponse struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			FileName string `json:"fileName"`
		} `json:"attributes"`
	} `json:"data"`
}
