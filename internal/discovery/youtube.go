// Package discovery enumerates playlist contents and video metadata,
// preferring the YouTube Data API and falling back to public yt-dlp probes.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// Video is one playlist entry.
type Video struct {
	VideoID        string
	PlaylistItemID string
	Position       int64
	HasPosition    bool
	Title          string
}

// VideoMeta is the metadata used for naming and tagging a download.
type VideoMeta struct {
	VideoID      string
	Title        string
	Channel      string
	Artist       string
	Album        string
	AlbumArtist  string
	Track        string
	TrackNumber  string
	UploadDate   string
	Description  string
	URL          string
	ThumbnailURL string
}

// APIClient is the authenticated YouTube surface used during discovery.
type APIClient interface {
	ListPlaylistVideos(ctx context.Context, playlistID string) ([]Video, error)
	VideoMetadata(ctx context.Context, videoID string) (*VideoMeta, error)
	RemovePlaylistItem(ctx context.Context, playlistItemID string) error
}

// YouTubeClient wraps the Data API v3 service.
type YouTubeClient struct {
	svc *youtube.Service
}

// NewYouTubeClient builds an authenticated Data API client.
func NewYouTubeClient(ctx context.Context, ts oauth2.TokenSource) (*YouTubeClient, error) {
	svc, err := youtube.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("creating youtube service: %w", err)
	}
	return &YouTubeClient{svc: svc}, nil
}

// ListPlaylistVideos pages through every item of a playlist.
func (c *YouTubeClient) ListPlaylistVideos(ctx context.Context, playlistID string) ([]Video, error) {
	var videos []Video
	pageToken := ""
	for {
		call := c.svc.PlaylistItems.List([]string{"snippet", "contentDetails"}).
			PlaylistId(playlistID).
			MaxResults(50).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("listing playlist %s: %w", playlistID, err)
		}
		for _, item := range resp.Items {
			video := Video{PlaylistItemID: item.Id}
			if item.ContentDetails != nil {
				video.VideoID = item.ContentDetails.VideoId
			}
			if item.Snippet != nil {
				video.Position = item.Snippet.Position
				video.HasPosition = true
				video.Title = item.Snippet.Title
			}
			videos = append(videos, video)
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return videos, nil
}

// VideoMetadata fetches basic snippet metadata. Returns nil when the video
// is gone.
func (c *YouTubeClient) VideoMetadata(ctx context.Context, videoID string) (*VideoMeta, error) {
	resp, err := c.svc.Videos.List([]string{"snippet", "contentDetails"}).
		Id(videoID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("fetching video %s: %w", videoID, err)
	}
	if len(resp.Items) == 0 {
		return nil, nil
	}
	snip := resp.Items[0].Snippet
	if snip == nil {
		return nil, nil
	}
	uploadDate := snip.PublishedAt
	if len(uploadDate) >= 10 {
		uploadDate = strings.ReplaceAll(uploadDate[:10], "-", "")
	}
	return &VideoMeta{
		VideoID:      videoID,
		Title:        snip.Title,
		Channel:      snip.ChannelTitle,
		Artist:       snip.ChannelTitle,
		UploadDate:   uploadDate,
		Description:  snip.Description,
		URL:          "https://www.youtube.com/watch?v=" + videoID,
		ThumbnailURL: bestThumbnail(snip.Thumbnails),
	}, nil
}

func bestThumbnail(details *youtube.ThumbnailDetails) string {
	if details == nil {
		return ""
	}
	for _, thumb := range []*youtube.Thumbnail{
		details.Maxres, details.Standard, details.High, details.Medium, details.Default,
	} {
		if thumb != nil && thumb.Url != "" {
			return thumb.Url
		}
	}
	return ""
}

// RemovePlaylistItem deletes an entry from a playlist after archiving.
func (c *YouTubeClient) RemovePlaylistItem(ctx context.Context, playlistItemID string) error {
	if err := c.svc.PlaylistItems.Delete(playlistItemID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("removing playlist item %s: %w", playlistItemID, err)
	}
	return nil
}

// IsAuthRefreshError reports whether an API failure came from a dead OAuth
// grant rather than the playlist itself.
func IsAuthRefreshError(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	return errors.As(err, &retrieveErr)
}
