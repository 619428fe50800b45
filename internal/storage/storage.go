// Package storage is the persistence facade consumed by the channel layer.
// It exposes narrow query/update operations over gorm; callers never see
// gorm types or errors beyond plain error values.
package storage

import (
	"errors"
	"fmt"
	"time"

	"omnibox/internal/models"

	"gorm.io/gorm"
)

type Storage struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) GetConversation(id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.First(&conv, id).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Storage) GetChannelConnection(id uint) (*models.ChannelConnection, error) {
	var conn models.ChannelConnection
	if err := s.db.First(&conn, id).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

func (s *Storage) GetChannelConnectionsByType(channelType string) ([]models.ChannelConnection, error) {
	var conns []models.ChannelConnection
	if err := s.db.Where("channel_type = ?", channelType).Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

// UpdateChannelConnection applies a partial update to a connection record.
func (s *Storage) UpdateChannelConnection(id uint, patch map[string]interface{}) error {
	return s.db.Model(&models.ChannelConnection{}).Where("id = ?", id).Updates(patch).Error
}

func (s *Storage) CreateChannelConnection(data *models.ChannelConnection) (*models.ChannelConnection, error) {
	if err := s.db.Create(data).Error; err != nil {
		return nil, fmt.Errorf("failed to create channel connection: %v", err)
	}
	return data, nil
}

func (s *Storage) ListChannelConnections(companyID uint) ([]models.ChannelConnection, error) {
	var conns []models.ChannelConnection
	if err := s.db.Where("company_id = ?", companyID).Order("id").Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

// ListConversations returns a company's conversations, most recently active
// first, with contacts preloaded for inbox rendering.
func (s *Storage) ListConversations(companyID uint, limit int) ([]models.Conversation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var convs []models.Conversation
	err := s.db.Preload("Contact").
		Where("company_id = ?", companyID).
		Order("last_message_at DESC").
		Limit(limit).Find(&convs).Error
	if err != nil {
		return nil, err
	}
	return convs, nil
}

func (s *Storage) ListMessages(conversationID uint, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var msgs []models.Message
	err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	// Reverse to chronological order for rendering.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Storage) GetContact(id uint) (*models.Contact, error) {
	var contact models.Contact
	if err := s.db.First(&contact, id).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

func (s *Storage) GetContactByPhone(phone string, companyID uint) (*models.Contact, error) {
	var contact models.Contact
	if err := s.db.Where("company_id = ? AND phone = ?", companyID, phone).First(&contact).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

// GetOrCreateContact looks a contact up by its (company, identifier,
// identifier type) key and creates it when absent. Safe to call repeatedly
// for the same identity.
func (s *Storage) GetOrCreateContact(data *models.Contact) (*models.Contact, error) {
	var contact models.Contact
	err := s.db.Where("company_id = ? AND identifier = ? AND identifier_type = ?",
		data.CompanyID, data.Identifier, data.IdentifierType).First(&contact).Error
	if err == nil {
		return &contact, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err := s.db.Create(data).Error; err != nil {
		return nil, fmt.Errorf("failed to create contact: %v", err)
	}
	return data, nil
}

func (s *Storage) GetConversationByContactAndChannel(contactID, channelID uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.Where("contact_id = ? AND channel_id = ?", contactID, channelID).First(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Storage) GetConversationByGroupJID(groupJID string, channelID uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.Where("group_jid = ? AND channel_id = ?", groupJID, channelID).First(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Storage) CreateConversation(data *models.Conversation) (*models.Conversation, error) {
	if err := s.db.Create(data).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %v", err)
	}
	return data, nil
}

func (s *Storage) UpdateConversation(id uint, patch map[string]interface{}) error {
	return s.db.Model(&models.Conversation{}).Where("id = ?", id).Updates(patch).Error
}

func (s *Storage) CreateMessage(data *models.Message) (*models.Message, error) {
	if data.SentAt == nil {
		now := time.Now()
		data.SentAt = &now
	}
	if err := s.db.Create(data).Error; err != nil {
		return nil, fmt.Errorf("failed to create message: %v", err)
	}
	return data, nil
}

func (s *Storage) GetMessageByID(id uint) (*models.Message, error) {
	var msg models.Message
	if err := s.db.First(&msg, id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetLastMessage returns the most recent message in a conversation.
func (s *Storage) GetLastMessage(conversationID uint) (*models.Message, error) {
	var msg models.Message
	err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC").First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Storage) GetMessageByExternalID(externalID string) (*models.Message, error) {
	var msg models.Message
	if err := s.db.Where("external_id = ?", externalID).First(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Storage) UpdateMessageStatus(id uint, status string) error {
	return s.db.Model(&models.Message{}).Where("id = ?", id).Update("status", status).Error
}

func (s *Storage) DeleteMessage(id uint) error {
	return s.db.Delete(&models.Message{}, id).Error
}

// GetCompanySetting returns the raw setting value, or gorm.ErrRecordNotFound
// when the company has never set the key.
func (s *Storage) GetCompanySetting(companyID uint, key string) (string, error) {
	var setting models.CompanySetting
	if err := s.db.Where("company_id = ? AND key = ?", companyID, key).First(&setting).Error; err != nil {
		return "", err
	}
	return setting.Value, nil
}

func (s *Storage) GetUser(userID uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
