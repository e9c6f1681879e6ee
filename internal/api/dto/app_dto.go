package dto

type AppDTO struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Media string `json:"media"`
}

type ListAppsResponse struct {
	Apps []AppDTO `json:"apps"`
}
