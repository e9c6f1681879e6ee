package dto

type ListProjectsRequest struct {
	PageSize int    `form:"page_size" binding:"omitempty,min=0"`
	Cursor   string `form:"cursor"`
}

type ProjectDTO struct {
	ProjectID string `json:"project_id"`
	AppKey    string `json:"app_key"`
	MediaURL  string `json:"media_url"`
	CreatedAt string `json:"created_at"`
}

type ListProjectsResponse struct {
	Projects   []ProjectDTO `json:"projects"`
	NextCursor string       `json:"next_cursor,omitempty"`
}
