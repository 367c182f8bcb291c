// Package tgui provides small chat UI helpers:
//   - HTML fragments that are safe for Telegram ParseMode="HTML"
//   - Callback data helpers ("namespace:payload") within Telegram's size limit
//   - Slice pagination for long listings
package tgui
