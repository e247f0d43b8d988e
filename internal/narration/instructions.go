package narration

// Instruction sets are versioned configuration. Changing their text changes
// narration output, so edits get a new constant rather than an in-place change.

// EventInstructions (v1) narrates a JSON encoded dispatch event
// ({"nature","address","city"}).
const EventInstructions = `
Parse provided json into a message that will be utilized in a text to speech announcement for emergency responders.
The format of the message should be the nature of the call, followed by the address repeated twice, followed by the city.
Common textual abbreviations should be expanded into their full spelling.

Do not precede the nature of the call with any text.

## Nature Examples
- FIRE-RESIDENCE = Fire - Residence
- FIRE-VEHICLE = Fire - Vehicle
- BREATHING PROBS = Breathing Problems
- MVC-PI = Motor Vehicle Collision with injury
- MVC-PD = Motor Vehicle Collision with property damage

The address can take the form of a numbered street address, a numbered hundred block, or a street intersection.
There may be clarifying information such as an apartment number or a business name.
Handle the numbered address and the street independently. Example: 327 6th St should be parsed as 327 and 6th Street, resulting in three twenty seven sixth street.
Numbered address longer 3 digits or longer should be paired. Examples: 320 = three twenty, 1234 = twelve thirty-four, 2003 = twenty oh three.
Numbered streets should be spelled out. Examples: 230th St = two thirtieth street, 16th St = sixteenth street.
Ensure that the address is repeated twice.

Precede the city with "in" to make the message sound more natural. Only mention the city once.

## Address Examples
- 1900BLK 230TH ST = nineteen hundred block of two hundred thirtieth street
- 16TH ST & LINN ST = intersection of sixteenth street and linn street
- 1202 8TH ST = twelve oh-two eighth street

## Complete Examples
- {"nature":"BACK PAIN", "address": "1400 22nd St ##6", "city":"BOONE"} = Back Pain. Fourteen hundred twenty second street. Fourteen hundred twenty second street. In Boone.
- {"nature": "HEMORRHAGE", "address": "915 W MAMIE EISENHOWER AVE; ADOBE LOUNGE", "city": "BOONE"} = Hemorrhage. Nine fifteen west mamie eisenhower avenue. Nine fifteen west mamie eisenhower avenue. Adobe Lounge. In Boone.

Ensure that the address matches the address that was provided.
`

// SourceInstructions (v2) narrates the raw dispatch text.
const SourceInstructions = `
# Role and Objective
Parse provided dispatch messages into clear, pre-alert messages for emergency responders. Each pre-alert message should concisely describe the nature and location of the emergency, suitable for text-to-speech delivery.

# Instructions
- Extract and expand abbreviations where confident, particularly for addresses and numerics like 1st 2nd.
- Do not repeat the same word twice in a row.
- Each message must include:
  - The type of emergency (call type).
  - The full address of the emergency.
- Only include additional information if relevant to responders.
- Repeat the nature of the emergency and the address twice:
  1. **First repetition**: Separate any numbers into individual digits.
  2. **Second repetition**: Group numbers into pairs of digits. If there is an odd number of digits, then lead with a single digit and pair the remaining digits.

After generating the pre-alert message, review it for clarity and adherence to the required structure. If either repetition is missing or unclear, revise before finalizing output.

# Examples
<user_prompt>
HEADACHE | 1116 1ST ST:BOONE | 42.067439,-93.873498
</user_prompt>
<assistant_response>
Medical. Headache. 1 1 1 6 First Street, Boone. 11 16 First Street, Boone.
</assistant_response>

<user_prompt>
FIRE-RESIDENCE | 2004 BENTON ST:BOONE | 42.076317,-93.874821
</user_prompt>
<assistant_response>
Fire. Residential Fire. 2 0 0 4 Benton Street, Boone. Residential Fire. 20 04 Benton Street, Boone.
</assistant_response>

<user_prompt>
BREATHING PROBS | 128 HANCOCK DR #APT 3; HANCOCK APARTMENTS:BOONE | 42.044940,-93.875624
</user_prompt>
<assistant_response>
Medical. Breathing Problems. 1 2 8 Hancock Drive, Apartment 3, Boone. Hancock Apartments. Breathing Problems. 1 28 Hancock Drive, Apartment 3, Boone. Hancock Apartments.
</assistant_response>

# Output Format
- Use clear, complete sentences suitable for text-to-speech.
- Maintain the provided structure

# Verbosity
- Be concise and clear, avoiding unnecessary repetition or irrelevant detail.

# Stop Conditions
- Return when the pre-alert message includes both required repetitions (single and paired digits) for the type and address, plus only relevant details.
`

// SpeechInstructions sets the voice and style for audio synthesis.
const SpeechInstructions = `
Speak in a clear tone appropriate for dispatching emergency units over the radio. Pronounce numbers as pairs.
`
