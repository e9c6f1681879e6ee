package dto

import "github.com/cuongbtq/genqueue/internal/notify"

type ListNotificationsResponse struct {
	Notifications []notify.Notification `json:"notifications"`
}
